package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		lots, err := app.FindCollectionByNameOrId("lots")
		if err != nil {
			return err
		}
		ticketTypes, err := app.FindCollectionByNameOrId("ticket_types")
		if err != nil {
			return err
		}
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		// written only by the server; purchasers may read their own
		tickets := core.NewBaseCollection("tickets")
		tickets.ListRule = types.Pointer("(@request.auth.id != '' && purchaser = @request.auth.id) || " + adminRule)
		tickets.ViewRule = tickets.ListRule
		tickets.Fields.Add(
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "lot", CollectionId: lots.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "ticket_type", CollectionId: ticketTypes.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "purchaser", CollectionId: users.Id, MaxSelect: 1},
			&core.TextField{Name: "payment_ref"},
			&core.TextField{Name: "payment_id"},
			&core.TextField{Name: "qr_code", Required: true},
			&core.TextField{Name: "validation_token", Required: true, Hidden: true},
			&core.TextField{Name: "attendee_name", Required: true},
			&core.TextField{Name: "attendee_document"},
			&core.EmailField{Name: "attendee_email", Required: true},
			&core.TextField{Name: "attendee_phone"},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{"pending", "valid", "used", "cancelled", "transferred"}},
			&core.DateField{Name: "purchased_at"},
			&core.DateField{Name: "used_at"},
			&core.TextField{Name: "notes"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		tickets.AddIndex("idx_tickets_qr_code", true, "qr_code", "")
		tickets.AddIndex("idx_tickets_payment_ref", false, "payment_ref", "")
		tickets.AddIndex("idx_tickets_event_status", false, "event, status", "")
		tickets.AddIndex("idx_tickets_type_status", false, "ticket_type, status", "")
		if err := app.Save(tickets); err != nil {
			return err
		}

		// append-only audit trail. event and actor are kept as given so attempts
		// against unknown events or by superusers are still recorded.
		scans := core.NewBaseCollection("scan_attempts")
		scans.ListRule = types.Pointer(adminRule)
		scans.ViewRule = scans.ListRule
		scans.Fields.Add(
			&core.RelationField{Name: "ticket", CollectionId: tickets.Id, MaxSelect: 1},
			&core.TextField{Name: "event", Required: true},
			&core.TextField{Name: "actor", Required: true},
			&core.SelectField{Name: "outcome", Required: true, MaxSelect: 1, Values: []string{
				"valid", "already_used", "cancelled", "transferred", "pending_payment", "not_found", "wrong_event",
			}},
			&core.TextField{Name: "location"},
			&core.DateField{Name: "scanned_at", Required: true},
		)
		scans.AddIndex("idx_scan_attempts_event", false, "event, scanned_at", "")
		return app.Save(scans)
	}, func(app core.App) error {
		for _, name := range []string{"scan_attempts", "tickets"} {
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
