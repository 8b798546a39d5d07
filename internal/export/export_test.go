package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/payslip"
	"github.com/opensource-finance/paygrid/internal/rules"
)

func configuration() *domain.PayrollConfiguration {
	return &domain.PayrollConfiguration{
		Country:  "Kenya",
		Currency: "KES",
		ComponentLibrary: []domain.SystemComponent{
			{ID: "BASIC", Name: "Basic Salary", Code: "BASIC", DatabaseField: "basic_salary", Category: domain.CategoryEarning},
		},
		Earnings: []domain.EarningComponent{
			{
				ID: "basic", Name: "Basic", Code: "BSC", Type: domain.EarningCash,
				Regularity: domain.Regular, BaseType: domain.BaseBase, TaxabilityStatus: domain.FullyTaxable,
				Calculation: domain.Calculation{CalculationMethod: domain.MethodFixedAmount, SystemComponentID: "BASIC"},
			},
			{
				ID: "bonus", Name: "Performance Bonus", Code: "BON", Type: domain.EarningCash,
				Regularity: domain.Irregular, BaseType: domain.BaseSupplementary, TaxabilityStatus: domain.FullyTaxable,
				Calculation: domain.Calculation{
					CalculationMethod: domain.MethodConditional,
					ConditionalRules: []domain.ConditionalRule{
						{
							ID: "top", ConditionType: domain.ConditionIf,
							Conditions: []domain.Condition{{Field: "rating", Operator: domain.OpGreaterEqual, Value: domain.Num(4)}},
							ThenAction: domain.ThenAction{Type: domain.ActionPercentage, Percentage: domain.Float(10), AppliedTo: domain.BaseBasicSalary},
						},
						{
							ID: "rest", ConditionType: domain.ConditionElse,
							ThenAction: domain.ThenAction{Type: domain.ActionAmount, Amount: domain.Float(0)},
						},
					},
				},
			},
		},
		MandatoryDeductions: []domain.DeductionComponent{
			{
				ID: "pension", Name: "Pension", Code: "PEN", Authority: domain.AuthorityMandatory,
				TaxTreatment: domain.PreTax, PayerSplit: domain.EmployeeOnly,
				Calculation: domain.Calculation{
					CalculationMethod: domain.MethodPercentage, Percentage: domain.Float(6), AppliedTo: domain.BaseGrossSalary,
					Cap: &domain.Cap{Type: domain.CapMonthly, Amount: domain.Float(1080)},
				},
			},
		},
		Tax: &domain.TaxConfiguration{
			TaxSystemType: domain.TaxProgressiveMarginal,
			Brackets: []domain.TaxBracket{
				{Min: 0, Max: domain.Float(24000), Rate: 10},
				{Min: 24000, Max: domain.Float(32333), Rate: 25},
				{Min: 32333, Rate: 30},
			},
		},
		Exemptions: []domain.ExemptionRule{
			{
				ID: "senior", Name: "Senior citizen", TargetType: domain.TargetSpecificComponent, TargetComponentID: "pension",
				ExemptionType: domain.ExemptFully,
				Conditions:    []domain.Condition{{Field: "age", Operator: domain.OpGreaterEqual, Value: domain.Num(60)}},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := configuration()

	data, err := Encode(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"country\": \"Kenya\"")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestRoundTripEvaluatesIdentically(t *testing.T) {
	cfg := configuration()
	data, err := Encode(cfg)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	formulas, err := rules.NewFormulaEngine(16)
	require.NoError(t, err)
	defer formulas.Close()
	p := payslip.NewProcessor(formulas)

	records := []domain.Record{
		{"basic_salary": domain.NumericValue(50000), "rating": domain.NumericValue(5), "age": domain.NumericValue(30)},
		{"basic_salary": domain.NumericValue(50000), "rating": domain.NumericValue(2), "age": domain.NumericValue(64)},
	}
	for _, rec := range records {
		want, err := p.Process(context.Background(), &payslip.PayslipInput{Config: cfg, Record: rec})
		require.NoError(t, err)
		got, err := p.Process(context.Background(), &payslip.PayslipInput{Config: decoded, Record: rec})
		require.NoError(t, err)

		assert.Equal(t, want.GrossEarnings, got.GrossEarnings)
		assert.Equal(t, want.Tax, got.Tax)
		assert.Equal(t, want.NetPay, got.NetPay)
		assert.Equal(t, want.Lines, got.Lines)
	}

	for _, rec := range records {
		want, err := rules.EvaluateChain(cfg.Earnings[1].ConditionalRules, rec)
		require.NoError(t, err)
		got, err := rules.EvaluateChain(decoded.Earnings[1].ConditionalRules, rec)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte(`{"country":"Kenya","currency":"KES","earnigns":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "earnigns")
}

func TestDecodeAcceptsBuilderExport(t *testing.T) {
	doc := `{
  "country": "Zimbabwe",
  "currency": "USD",
  "multiCurrency": {
    "enabled": true,
    "baseCurrency": "USD",
    "officialCurrency": "ZIG",
    "currencies": [{"code": "ZIG", "name": "Zimbabwe Gold", "isOfficial": true, "exchangeRate": 26.5}],
    "exchangeRates": {"USD_ZIG": 26.5}
  },
  "componentLibrary": [],
  "earnings": [],
  "mandatoryDeductions": [],
  "voluntaryDeductions": [],
  "preTaxCredits": [],
  "tax": null,
  "postTaxCredits": [],
  "postTaxDeductions": [],
  "postNetItems": []
}`
	cfg, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Zimbabwe", cfg.Country)
	assert.Nil(t, cfg.Tax)
	require.NotNil(t, cfg.MultiCurrency)
	assert.Equal(t, 26.5, cfg.MultiCurrency.ExchangeRates["USD_ZIG"])
}

func TestBuilderEmptyArraysSurviveRoundTrip(t *testing.T) {
	doc := `{
  "country": "Kenya",
  "currency": "KES",
  "componentLibrary": [],
  "earnings": [{
    "id": "basic", "name": "Basic", "code": "BSC", "type": "cash",
    "regularity": "regular", "baseType": "base", "taxabilityStatus": "fully_taxable",
    "calculationMethod": "fixed_amount", "amount": 50000,
    "variables": [], "conditions": [], "brackets": [], "conditionalRules": []
  }],
  "mandatoryDeductions": [],
  "voluntaryDeductions": [],
  "preTaxCredits": [],
  "tax": {"taxSystemType": "progressive_marginal", "brackets": []},
  "postTaxCredits": [],
  "postTaxDeductions": [],
  "postNetItems": [{
    "id": "loan", "name": "Loan", "code": "LN", "type": "deduction",
    "calculationMethod": "fixed_amount", "amount": 100, "conditionalRules": []
  }]
}`
	cfg, err := Decode([]byte(doc))
	require.NoError(t, err)

	calc := cfg.Earnings[0].Calculation
	assert.NotNil(t, calc.Variables)
	assert.NotNil(t, calc.Conditions)
	assert.NotNil(t, calc.Brackets)
	assert.NotNil(t, calc.ConditionalRules)

	data, err := Encode(cfg)
	require.NoError(t, err)
	for _, key := range []string{"variables", "conditions", "brackets", "conditionalRules"} {
		assert.Contains(t, string(data), `"`+key+`": []`, "%s must be exported as an empty array", key)
	}

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
	assert.NotNil(t, decoded.Tax.Brackets)
	assert.NotNil(t, decoded.PostNetItems[0].ConditionalRules)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "payroll-config-kenya.json", FileName(&domain.PayrollConfiguration{Country: "Kenya"}))
	assert.Equal(t, "payroll-config-south-africa.json", FileName(&domain.PayrollConfiguration{Country: "South Africa"}))
	assert.Equal(t, "payroll-config-default.json", FileName(&domain.PayrollConfiguration{}))
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	cfg := configuration()

	path, err := WriteFile(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "payroll-config-kenya.json"), path)

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestDecodeRecord(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		rec, err := DecodeRecord([]byte(`{"age": 65, "department": "IT", "has_spouse": true}`), "")
		require.NoError(t, err)
		assert.Equal(t, domain.NumericValue(65), rec["age"])
		assert.Equal(t, domain.TextValue("IT"), rec["department"])
		assert.Equal(t, domain.NumericValue(1), rec["has_spouse"])
	})

	t.Run("yaml", func(t *testing.T) {
		rec, err := DecodeRecord([]byte("age: 65\nbasic_salary: 52000.50\ndepartment: IT\n"), FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, domain.NumericValue(65), rec["age"])
		assert.Equal(t, domain.NumericValue(52000.50), rec["basic_salary"])
		assert.Equal(t, domain.TextValue("IT"), rec["department"])
	})

	t.Run("nested values are rejected", func(t *testing.T) {
		_, err := DecodeRecord([]byte(`{"address": {"city": "Nairobi"}}`), FormatJSON)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := DecodeRecord([]byte(`age = 65`), "toml")
		require.Error(t, err)
	})
}

func TestDecodeRecords(t *testing.T) {
	list, err := DecodeRecords([]byte(`[{"age": 30}, {"age": 61}]`), "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.NumericValue(61), list[1]["age"])

	list, err = DecodeRecords([]byte("- age: 30\n- age: 61\n"), FormatYAML)
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = DecodeRecords([]byte("age: 30\n"), FormatYAML)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = DecodeRecords([]byte(`{"age": 30}`), FormatJSON)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("employees.yml"))
	assert.Equal(t, FormatYAML, FormatOf("employee.YAML"))
	assert.Equal(t, FormatJSON, FormatOf("employee.json"))
	assert.Equal(t, "", FormatOf("employee"))
}
