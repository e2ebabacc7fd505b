package registry

import "bizforge.io/platform/internal/kernel/fieldpolicy"

// Seed registers the built-in business entities. Additional entity tables
// are generated from the catalog definitions at deploy time; these two
// cover both shapes the kernel must handle (document vs. plain master
// record).
func Seed(r *Registry) error {
	salesOrder := Definition{
		Type:  "sales_order",
		Table: "sales_orders",
		Fields: map[string]FieldType{
			"order_number": FieldString,
			"customer_id":  FieldString,
			"currency":     FieldString,
			"memo":         FieldString,
			"discount":     FieldNumber,
			"total":        FieldNumber,
			"tax_amount":   FieldNumber,
			"external_ref": FieldString,
			"owner_id":     FieldString,
			"company_id":   FieldString,
			"site_id":      FieldString,
			"lines":        FieldJSON,
		},
		FieldRules: fieldpolicy.RuleSet{
			Immutable:   []string{"order_number", "customer_id"},
			WriteOnce:   []string{"external_ref"},
			ServerOwned: []string{"total"},
			Computed:    []string{"tax_amount"},
			NonNullable: []string{"currency"},
		},
		HasSoftDelete:    true,
		HasDocStatus:     true,
		HasPostingStatus: true,
		Searchable:       true,
	}

	customer := Definition{
		Type:  "customer",
		Table: "customers",
		Fields: map[string]FieldType{
			"name":       FieldString,
			"email":      FieldString,
			"phone":      FieldString,
			"segment":    FieldString,
			"credit_cap": FieldNumber,
			"active":     FieldBool,
			"owner_id":   FieldString,
			"company_id": FieldString,
		},
		FieldRules: fieldpolicy.RuleSet{
			NonNullable: []string{"name"},
			ServerOwned: []string{"credit_cap"},
		},
		HasSoftDelete: true,
		Searchable:    true,
	}

	for _, def := range []Definition{salesOrder, customer} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
