package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		users.Fields.Add(
			&core.SelectField{Name: "role", Values: []string{"member", "board", "admin"}, MaxSelect: 1},
			&core.BoolField{Name: "is_staff"},
			&core.BoolField{Name: "is_member"},
			&core.TextField{Name: "phone"},
		)
		return app.Save(users)
	}, func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		for _, name := range []string{"role", "is_staff", "is_member", "phone"} {
			users.Fields.RemoveByName(name)
		}
		return app.Save(users)
	})
}
