package main

import (
	"strings"
	"testing"
	"time"
)

func TestReadEmployees(t *testing.T) {
	input := `monthly_salary, grade, citizenship, expected_net
40000, 5, citizen, 42560.65
20000, 2, foreign,
1, 2
`
	employees, err := readEmployees(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(employees) != 2 {
		t.Fatalf("expected 2 employees, got %d", len(employees))
	}

	first := employees[0]
	if first.Record["monthly_salary"] != 40000.0 {
		t.Errorf("expected numeric salary, got %v", first.Record["monthly_salary"])
	}
	if first.Record["citizenship"] != "citizen" {
		t.Errorf("expected text citizenship, got %v", first.Record["citizenship"])
	}
	if _, ok := first.Record[expectedColumn]; ok {
		t.Error("expected_net must not be sent in the record")
	}
	if first.ExpectedNet == nil || *first.ExpectedNet != 42560.65 {
		t.Errorf("expected net 42560.65, got %v", first.ExpectedNet)
	}

	if employees[1].ExpectedNet != nil {
		t.Error("empty expected_net should be nil")
	}
	if employees[1].Row != 3 {
		t.Errorf("expected row 3, got %d", employees[1].Row)
	}
}

func TestReadEmployeesLimit(t *testing.T) {
	input := "salary\n1\n2\n3\n"
	employees, err := readEmployees(strings.NewReader(input), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(employees) != 2 {
		t.Errorf("expected 2 employees, got %d", len(employees))
	}
}

func TestPercentile(t *testing.T) {
	m := &Metrics{}
	if m.percentile(50) != 0 {
		t.Error("expected zero percentile with no observations")
	}
	for i := 1; i <= 100; i++ {
		m.observe(time.Duration(i) * time.Millisecond)
	}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{50, 50 * time.Millisecond},
		{95, 95 * time.Millisecond},
		{100, 100 * time.Millisecond},
		{0, 1 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := m.percentile(tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
