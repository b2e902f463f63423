// Package model declares the built-in entity types served by the default
// server: customers with a passport, orders, and shared tags. It doubles as
// the reference for wiring new record types into the registry.
package model

import (
	"time"

	"relstore/internal/schema"
)

type Customer struct {
	ID         int64
	Name       string
	Email      string
	City       string
	Age        int64
	PassportID int64

	Passport *Passport
	Orders   []*Order
}

func (c *Customer) EntityName() string   { return "customer" }
func (c *Customer) RecordID() int64      { return c.ID }
func (c *Customer) SetRecordID(id int64) { c.ID = id }

func (c *Customer) Values() map[string]any {
	return map[string]any{
		"name":        c.Name,
		"email":       c.Email,
		"city":        c.City,
		"age":         c.Age,
		"passport_id": c.PassportID,
	}
}

func (c *Customer) Scan(row map[string]any) error {
	if v, ok := row["name"]; ok {
		c.Name = schema.String(v)
	}
	if v, ok := row["email"]; ok {
		c.Email = schema.String(v)
	}
	if v, ok := row["city"]; ok {
		c.City = schema.String(v)
	}
	if v, ok := row["age"]; ok {
		c.Age = schema.Int64(v)
	}
	if v, ok := row["passport_id"]; ok {
		c.PassportID = schema.Int64(v)
	}
	return nil
}

type Passport struct {
	ID             int64
	Number         string
	ExpirationDate time.Time

	Owner *Customer
}

func (p *Passport) EntityName() string   { return "passport" }
func (p *Passport) RecordID() int64      { return p.ID }
func (p *Passport) SetRecordID(id int64) { p.ID = id }

func (p *Passport) Values() map[string]any {
	return map[string]any{
		"number":          p.Number,
		"expiration_date": p.ExpirationDate,
	}
}

func (p *Passport) Scan(row map[string]any) error {
	if v, ok := row["number"]; ok {
		p.Number = schema.String(v)
	}
	if v, ok := row["expiration_date"]; ok {
		p.ExpirationDate = schema.Time(v)
	}
	return nil
}

type Order struct {
	ID         int64
	CustomerID int64
	Total      float64
	Status     string
	PlacedAt   time.Time

	Tags []*Tag
}

func (o *Order) EntityName() string   { return "order" }
func (o *Order) RecordID() int64      { return o.ID }
func (o *Order) SetRecordID(id int64) { o.ID = id }

func (o *Order) Values() map[string]any {
	return map[string]any{
		"customer_id": o.CustomerID,
		"total":       o.Total,
		"status":      o.Status,
		"placed_at":   o.PlacedAt,
	}
}

func (o *Order) Scan(row map[string]any) error {
	if v, ok := row["customer_id"]; ok {
		o.CustomerID = schema.Int64(v)
	}
	if v, ok := row["total"]; ok {
		o.Total = schema.Float64(v)
	}
	if v, ok := row["status"]; ok {
		o.Status = schema.String(v)
	}
	if v, ok := row["placed_at"]; ok {
		o.PlacedAt = schema.Time(v)
	}
	return nil
}

type Tag struct {
	ID    int64
	Label string
}

func (t *Tag) EntityName() string   { return "tag" }
func (t *Tag) RecordID() int64      { return t.ID }
func (t *Tag) SetRecordID(id int64) { t.ID = id }

func (t *Tag) Values() map[string]any {
	return map[string]any{"label": t.Label}
}

func (t *Tag) Scan(row map[string]any) error {
	if v, ok := row["label"]; ok {
		t.Label = schema.String(v)
	}
	return nil
}

// Register loads the built-in descriptors. The customer row carries the
// passport foreign key; the passport's owner relation is the back-reference
// over the same column, so saving either side of the pair exercises the
// cycle guard.
func Register(reg *schema.Registry) error {
	customer := schema.Table{
		Name:      "customer",
		TableName: "customers",
		Columns: []schema.Column{
			{Name: "id", Type: "bigint", PrimaryKey: true},
			{Name: "name", Type: "string", NotNull: true, MaxLength: 120},
			{Name: "email", Type: "string", Indexed: true, MaxLength: 200},
			{Name: "city", Type: "string", Indexed: true, MaxLength: 80},
			{Name: "age", Type: "int"},
			{Name: "passport_id", Type: "bigint", Indexed: true},
		},
		Relations: []schema.Relation{
			{
				Name:          "passport",
				Kind:          schema.OneToOne,
				Target:        "passport",
				OwnerHoldsKey: true,
				SourceKey:     "passport_id",
				Cascade:       schema.CascadeAll,
				Get: func(owner schema.Record) []schema.Record {
					c := owner.(*Customer)
					if c.Passport == nil {
						return nil
					}
					return []schema.Record{c.Passport}
				},
				Set: func(owner schema.Record, related []schema.Record) {
					c := owner.(*Customer)
					if len(related) == 0 {
						c.Passport = nil
						return
					}
					c.Passport = related[0].(*Passport)
				},
			},
			{
				Name:    "orders",
				Kind:    schema.OneToMany,
				Target:  "order",
				Cascade: schema.CascadeAll,
				Get: func(owner schema.Record) []schema.Record {
					c := owner.(*Customer)
					recs := make([]schema.Record, len(c.Orders))
					for i, o := range c.Orders {
						recs[i] = o
					}
					return recs
				},
				Set: func(owner schema.Record, related []schema.Record) {
					c := owner.(*Customer)
					c.Orders = make([]*Order, len(related))
					for i, r := range related {
						c.Orders[i] = r.(*Order)
					}
				},
			},
		},
		New: func() schema.Record { return &Customer{} },
	}

	passport := schema.Table{
		Name:      "passport",
		TableName: "passports",
		Columns: []schema.Column{
			{Name: "id", Type: "bigint", PrimaryKey: true},
			{Name: "number", Type: "string", Unique: true, MaxLength: 40},
			{Name: "expiration_date", Type: "timestamp"},
		},
		Relations: []schema.Relation{
			{
				Name:      "owner",
				Kind:      schema.OneToOne,
				Target:    "customer",
				TargetKey: "passport_id",
				Cascade:   schema.CascadeInsert | schema.CascadeRead,
				Get: func(owner schema.Record) []schema.Record {
					p := owner.(*Passport)
					if p.Owner == nil {
						return nil
					}
					return []schema.Record{p.Owner}
				},
				Set: func(owner schema.Record, related []schema.Record) {
					p := owner.(*Passport)
					if len(related) == 0 {
						p.Owner = nil
						return
					}
					p.Owner = related[0].(*Customer)
				},
			},
		},
		New: func() schema.Record { return &Passport{} },
	}

	order := schema.Table{
		Name:      "order",
		TableName: "orders",
		Columns: []schema.Column{
			{Name: "id", Type: "bigint", PrimaryKey: true},
			{Name: "customer_id", Type: "bigint", Indexed: true},
			{Name: "total", Type: "float"},
			{Name: "status", Type: "string", MaxLength: 30, Default: "pending"},
			{Name: "placed_at", Type: "timestamp"},
		},
		Relations: []schema.Relation{
			{
				Name:    "tags",
				Kind:    schema.ManyToMany,
				Target:  "tag",
				Cascade: schema.CascadeAll,
				Get: func(owner schema.Record) []schema.Record {
					o := owner.(*Order)
					recs := make([]schema.Record, len(o.Tags))
					for i, t := range o.Tags {
						recs[i] = t
					}
					return recs
				},
				Set: func(owner schema.Record, related []schema.Record) {
					o := owner.(*Order)
					o.Tags = make([]*Tag, len(related))
					for i, r := range related {
						o.Tags[i] = r.(*Tag)
					}
				},
			},
		},
		New: func() schema.Record { return &Order{} },
	}

	tag := schema.Table{
		Name:      "tag",
		TableName: "tags",
		Columns: []schema.Column{
			{Name: "id", Type: "bigint", PrimaryKey: true},
			{Name: "label", Type: "string", Unique: true, NotNull: true, MaxLength: 60},
		},
		New: func() schema.Record { return &Tag{} },
	}

	return reg.Load(&customer, &passport, &order, &tag)
}
