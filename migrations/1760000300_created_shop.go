package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		products := core.NewBaseCollection("products")
		products.ListRule = types.Pointer("active = true || " + adminRule)
		products.ViewRule = products.ListRule
		adminWrites(products)
		products.Fields.Add(
			&core.TextField{Name: "name", Required: true},
			&core.EditorField{Name: "description"},
			&core.NumberField{Name: "price", Required: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "stock", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.FileField{Name: "images", MaxSelect: 5, MaxSize: 5 << 20, MimeTypes: []string{"image/jpeg", "image/png", "image/webp"}},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(products); err != nil {
			return err
		}

		variants := core.NewBaseCollection("product_variants")
		variants.ListRule = types.Pointer("(active = true && product.active = true) || " + adminRule)
		variants.ViewRule = variants.ListRule
		adminWrites(variants)
		variants.Fields.Add(
			&core.RelationField{Name: "product", CollectionId: products.Id, MaxSelect: 1, Required: true, CascadeDelete: true},
			&core.TextField{Name: "name", Required: true},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "stock", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(variants); err != nil {
			return err
		}

		orders := core.NewBaseCollection("orders")
		orders.ListRule = types.Pointer("(@request.auth.id != '' && purchaser = @request.auth.id) || " + adminRule)
		orders.ViewRule = orders.ListRule
		orders.Fields.Add(
			&core.TextField{Name: "number", Required: true},
			&core.RelationField{Name: "purchaser", CollectionId: users.Id, MaxSelect: 1},
			&core.TextField{Name: "contact_name", Required: true},
			&core.EmailField{Name: "contact_email", Required: true},
			&core.TextField{Name: "contact_phone"},
			&core.TextField{Name: "shipping_address"},
			&core.NumberField{Name: "subtotal", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "shipping_cost", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "discount", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "total", Min: types.Pointer(0.0)},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{
				"pending", "paid", "preparing", "shipped", "delivered", "cancelled",
			}},
			&core.TextField{Name: "payment_method"},
			&core.TextField{Name: "payment_id"},
			&core.DateField{Name: "created_at"},
			&core.DateField{Name: "paid_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		orders.AddIndex("idx_orders_number", true, "number", "")
		orders.AddIndex("idx_orders_status", false, "status", "")
		if err := app.Save(orders); err != nil {
			return err
		}

		items := core.NewBaseCollection("order_items")
		items.ListRule = types.Pointer("@request.auth.id != '' && order.purchaser = @request.auth.id")
		items.ViewRule = items.ListRule
		items.Fields.Add(
			&core.RelationField{Name: "order", CollectionId: orders.Id, MaxSelect: 1, Required: true, CascadeDelete: true},
			&core.RelationField{Name: "product", CollectionId: products.Id, MaxSelect: 1, Required: true},
			&core.RelationField{Name: "variant", CollectionId: variants.Id, MaxSelect: 1},
			&core.TextField{Name: "description"},
			&core.NumberField{Name: "quantity", OnlyInt: true, Required: true, Min: types.Pointer(1.0)},
			&core.NumberField{Name: "unit_price", Min: types.Pointer(0.0)},
		)
		items.AddIndex("idx_order_items_order", false, "`order`", "")
		return app.Save(items)
	}, func(app core.App) error {
		for _, name := range []string{"order_items", "orders", "product_variants", "products"} {
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
