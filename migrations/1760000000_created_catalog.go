package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

const (
	adminRule         = "@request.auth.collectionName = 'users' && @request.auth.role = 'admin'"
	publicCatalogRule = "(published = true && active = true) || " + adminRule
)

// adminWrites limits create, update and delete to club admins. Superusers
// bypass collection rules.
func adminWrites(c *core.Collection) {
	c.CreateRule = types.Pointer(adminRule)
	c.UpdateRule = types.Pointer(adminRule)
	c.DeleteRule = types.Pointer(adminRule)
}

func init() {
	m.Register(func(app core.App) error {
		events := core.NewBaseCollection("events")
		events.ListRule = types.Pointer(publicCatalogRule)
		events.ViewRule = types.Pointer(publicCatalogRule)
		adminWrites(events)
		events.Fields.Add(
			&core.TextField{Name: "title", Required: true, Max: 200},
			&core.TextField{Name: "slug", Required: true, Pattern: `^[a-z0-9-]+$`},
			&core.EditorField{Name: "description"},
			&core.DateField{Name: "starts_at", Required: true},
			&core.DateField{Name: "ends_at"},
			&core.TextField{Name: "location"},
			&core.NumberField{Name: "capacity", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "members_only"},
			&core.BoolField{Name: "published"},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		events.AddIndex("idx_events_slug", true, "slug", "")
		events.AddIndex("idx_events_starts_at", false, "starts_at", "")
		if err := app.Save(events); err != nil {
			return err
		}

		lots := core.NewBaseCollection("lots")
		lots.ListRule = types.Pointer("(active = true && event.published = true) || " + adminRule)
		lots.ViewRule = lots.ListRule
		adminWrites(lots)
		lots.Fields.Add(
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true, CascadeDelete: true},
			&core.TextField{Name: "name", Required: true},
			&core.DateField{Name: "starts_at", Required: true},
			&core.DateField{Name: "ends_at", Required: true},
			&core.NumberField{Name: "max_quantity", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "active"},
			&core.NumberField{Name: "display_order", OnlyInt: true},
		)
		lots.AddIndex("idx_lots_event", false, "event", "")
		if err := app.Save(lots); err != nil {
			return err
		}

		ticketTypes := core.NewBaseCollection("ticket_types")
		ticketTypes.ListRule = types.Pointer("(active = true && lot.active = true) || " + adminRule)
		ticketTypes.ViewRule = ticketTypes.ListRule
		adminWrites(ticketTypes)
		ticketTypes.Fields.Add(
			&core.RelationField{Name: "lot", CollectionId: lots.Id, MaxSelect: 1, Required: true, CascadeDelete: true},
			&core.TextField{Name: "name", Required: true},
			&core.TextField{Name: "description"},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "member_price", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "total_quantity", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "quantity_sold", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "max_per_purchase", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "active"},
			&core.NumberField{Name: "display_order", OnlyInt: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		ticketTypes.AddIndex("idx_ticket_types_lot", false, "lot", "")
		return app.Save(ticketTypes)
	}, func(app core.App) error {
		for _, name := range []string{"ticket_types", "lots", "events"} {
			col, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(col); err != nil {
				return err
			}
		}
		return nil
	})
}
