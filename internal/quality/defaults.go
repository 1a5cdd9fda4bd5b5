package quality

// Thresholds used by the built-in e-commerce rule sets.
const (
	CompletenessThreshold = 0.95
	AccuracyThreshold     = 0.98
	ConsistencyThreshold  = 0.99
	ValidityThreshold     = 0.97
)

// DefaultRules returns the warehouse rule sets for the e-commerce tables.
func DefaultRules() *Registry {
	r, err := NewRegistry(defaultRuleSets())
	if err != nil {
		panic("quality: built-in rule sets are invalid: " + err.Error())
	}
	return r
}

// DefaultIngestRules returns the lighter rule sets applied to raw files as
// they arrive: required columns, null ceilings, row-count minimums and a few
// row predicates.
func DefaultIngestRules() *Registry {
	r, err := NewRegistry(defaultIngestRuleSets())
	if err != nil {
		panic("quality: built-in ingest rule sets are invalid: " + err.Error())
	}
	return r
}

func completeness(columns ...string) CheckDescriptor {
	return CheckDescriptor{Name: "completeness", Kind: KindCompleteness, Columns: columns, Threshold: CompletenessThreshold}
}

func uniqueness(key string) CheckDescriptor {
	return CheckDescriptor{
		Name:      key + "_uniqueness",
		Kind:      KindConsistency,
		Columns:   []string{key},
		Threshold: ConsistencyThreshold,
		Params:    Params{"mode": "unique"},
	}
}

func freshness() CheckDescriptor {
	return CheckDescriptor{
		Name:     "freshness",
		Kind:     KindFreshness,
		Columns:  []string{"created_at"},
		Optional: true,
		Params:   Params{"max_age_hours": 24.0},
	}
}

func volume(minRows int) CheckDescriptor {
	return CheckDescriptor{Name: "volume", Kind: KindVolume, Params: Params{"min_rows": minRows}}
}

func businessRule(name, column, rule string, extra Params) CheckDescriptor {
	p := Params{"rule": rule}
	for k, v := range extra {
		p[k] = v
	}
	return CheckDescriptor{Name: name, Kind: KindBusinessRule, Columns: []string{column}, Params: p}
}

func defaultRuleSets() map[string]TableRules {
	return map[string]TableRules{
		"customers": {
			RequiredColumns: []string{"customer_id", "email", "registration_date"},
			Checks: []CheckDescriptor{
				completeness("customer_id", "email", "registration_date"),
				{Name: "email_accuracy", Kind: KindAccuracy, Columns: []string{"email"}, Threshold: AccuracyThreshold, Params: Params{"rule": "email"}},
				// Measured and reported; a low rate never fails the check.
				{Name: "phone_accuracy", Kind: KindAccuracy, Columns: []string{"phone"}, Threshold: AccuracyThreshold, Optional: true,
					Params: Params{"rule": "phone", "denominator": "non_null", "measure_only": true}},
				uniqueness("customer_id"),
				{Name: "age_validity", Kind: KindValidity, Columns: []string{"date_of_birth"}, Threshold: ValidityThreshold, Optional: true,
					Params: Params{"transform": "age_years", "min": 13, "max": 120, "metric": "age_validity"}},
				freshness(),
				volume(100),
				businessRule("invalid_email", "email", "invalid_email", nil),
			},
		},
		"products": {
			RequiredColumns: []string{"product_id", "product_name", "price"},
			Checks: []CheckDescriptor{
				completeness("product_id", "product_name", "price"),
				{Name: "price_accuracy", Kind: KindAccuracy, Columns: []string{"price"}, Threshold: AccuracyThreshold,
					Params: Params{"rule": "range", "min": 0, "max": 10000}},
				{Name: "sku_accuracy", Kind: KindAccuracy, Columns: []string{"sku"}, Threshold: AccuracyThreshold, Optional: true,
					Params: Params{"rule": "sku"}},
				uniqueness("product_id"),
				{Name: "stock_validity", Kind: KindValidity, Columns: []string{"stock_quantity"}, Threshold: ValidityThreshold, Optional: true,
					Params: Params{"min": 0, "metric": "stock_validity"}},
				freshness(),
				volume(100),
				businessRule("non_positive_price", "price", "non_positive", nil),
				businessRule("extreme_price", "price", "above", Params{"limit": 10000, "measure_only": true}),
			},
		},
		"orders": {
			RequiredColumns: []string{"order_id", "customer_id", "order_date", "total_amount"},
			Checks: []CheckDescriptor{
				completeness("order_id", "customer_id", "order_date", "total_amount"),
				{Name: "total_calculation_accuracy", Kind: KindAccuracy, Optional: true, Threshold: AccuracyThreshold,
					Columns: []string{"total_amount", "subtotal", "tax_amount", "shipping_cost", "discount_amount"},
					Params:  Params{"rule": "order_total", "metric": "total_calculation_accuracy"}},
				uniqueness("order_id"),
				{Name: "customer_id_consistency", Kind: KindConsistency, Columns: []string{"customer_id"}, Threshold: ConsistencyThreshold, Optional: true,
					Params: Params{"mode": "reference", "reference_table": "customers", "reference_column": "customer_id"}},
				{Name: "order_date_validity", Kind: KindValidity, Columns: []string{"order_date"}, Threshold: ValidityThreshold,
					Params: Params{"transform": "date", "min_date": "2020-01-01", "max_date": "now", "metric": "order_date_validity"}},
				freshness(),
				volume(100),
				businessRule("non_positive_total", "total_amount", "non_positive", nil),
				businessRule("extreme_total", "total_amount", "above", Params{"limit": 50000, "measure_only": true}),
			},
		},
		"order_items": {
			RequiredColumns: []string{"order_item_id", "order_id", "product_id", "quantity"},
			Checks: []CheckDescriptor{
				completeness("order_item_id", "order_id", "product_id", "quantity"),
				{Name: "line_total_accuracy", Kind: KindAccuracy, Optional: true, Threshold: AccuracyThreshold,
					Columns: []string{"line_total", "quantity", "unit_price"},
					Params:  Params{"rule": "line_total", "metric": "line_total_accuracy"}},
				uniqueness("order_item_id"),
				{Name: "quantity_validity", Kind: KindValidity, Columns: []string{"quantity"}, Threshold: ValidityThreshold,
					Params: Params{"min": 0, "exclusive_min": true, "max": 100, "metric": "quantity_validity"}},
				volume(100),
			},
		},
	}
}

func defaultIngestRuleSets() map[string]TableRules {
	ingest := func(required []string, maxNullPct float64, minRows int, rules ...CheckDescriptor) TableRules {
		checks := []CheckDescriptor{
			{Name: "null_percentage", Kind: KindCompleteness, Columns: required, Threshold: 1 - maxNullPct},
			volume(minRows),
		}
		return TableRules{RequiredColumns: required, Checks: append(checks, rules...)}
	}
	return map[string]TableRules{
		"customers": ingest([]string{"customer_id", "email", "registration_date"}, 0.05, 100,
			businessRule("email_format", "email", "missing_at", nil)),
		"products": ingest([]string{"product_id", "product_name", "price"}, 0.05, 50,
			businessRule("price_positive", "price", "non_positive", nil)),
		"orders": ingest([]string{"order_id", "customer_id", "order_date", "total_amount"}, 0.02, 10,
			businessRule("total_amount_positive", "total_amount", "non_positive", nil)),
		"order_items": ingest([]string{"order_item_id", "order_id", "product_id", "quantity"}, 0.02, 10),
	}
}
