package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"

	"clubsite/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"
	"github.com/pocketbase/pocketbase/tools/template"
)

type TicketEmail struct {
	To      models.Attendee
	Event   models.Event
	Tickets []IssuedTicket
}

type ReminderEmail struct {
	Name    string
	Email   string
	Event   models.Event
	Tickets int
}

// Mailer sends the transactional emails of the club.
type Mailer interface {
	SendTickets(ctx context.Context, msg TicketEmail) error
	SendReminder(ctx context.Context, msg ReminderEmail) error
	SendOrderConfirmation(ctx context.Context, o *models.Order) error
	SendOrderShipped(ctx context.Context, o *models.Order) error
}

const ticketsTemplate = `<p>Hola {{.To.Name}},</p>
<p>Tu pago fue acreditado. Adjuntamos {{len .Tickets}} entrada(s) para <strong>{{.Event.Title}}</strong>,
el {{.Event.StartsAt.Format "02/01/2006 15:04"}} en {{.Event.Location}}.</p>
<ul>{{range .Tickets}}<li>{{.TypeName}}: {{.Ticket.Attendee.Name}}</li>{{end}}</ul>
<p>Cada código QR es personal y se valida una sola vez en el ingreso.</p>`

const reminderTemplate = `<p>Hola {{.Name}},</p>
<p>Te recordamos que <strong>{{.Event.Title}}</strong> es el {{.Event.StartsAt.Format "02/01/2006 15:04"}}
en {{.Event.Location}}. Tenés {{.Tickets}} entrada(s) válidas.</p>`

const orderPaidTemplate = `<p>Hola {{.Contact.Name}},</p>
<p>Recibimos el pago del pedido <strong>{{.Number}}</strong> por $ {{.Total.StringFixed 2}}.</p>
<ul>{{range .Items}}<li>{{.Quantity}} x {{.Description}}</li>{{end}}</ul>`

const orderShippedTemplate = `<p>Hola {{.Contact.Name}},</p>
<p>Tu pedido <strong>{{.Number}}</strong> fue despachado{{if .Contact.Address}} a {{.Contact.Address}}{{end}}.</p>`

// PocketBaseMailer delivers through the application's configured mail client.
type PocketBaseMailer struct {
	app       core.App
	from      mail.Address
	templates *template.Registry
}

func NewPocketBaseMailer(app core.App, fromName, fromAddress string) *PocketBaseMailer {
	return &PocketBaseMailer{
		app:       app,
		from:      mail.Address{Name: fromName, Address: fromAddress},
		templates: template.NewRegistry(),
	}
}

func (m *PocketBaseMailer) SendTickets(ctx context.Context, msg TicketEmail) error {
	html, err := m.templates.LoadString(ticketsTemplate).Render(msg)
	if err != nil {
		return fmt.Errorf("render tickets email: %w", err)
	}

	attachments := make(map[string]io.Reader, len(msg.Tickets)*2)
	for _, it := range msg.Tickets {
		png, err := RenderQRPNG(it.Ticket.QRCode, qrSize)
		if err != nil {
			return fmt.Errorf("render qr %s: %w", it.Ticket.ID, err)
		}
		pdf, err := RenderTicketPDF(&msg.Event, it)
		if err != nil {
			return fmt.Errorf("render pdf %s: %w", it.Ticket.ID, err)
		}
		attachments[fmt.Sprintf("entrada-%s.png", it.Ticket.ID)] = bytes.NewReader(png)
		attachments[fmt.Sprintf("entrada-%s.pdf", it.Ticket.ID)] = bytes.NewReader(pdf)
	}

	return m.send(msg.To.Name, msg.To.Email, "Tus entradas para "+msg.Event.Title, html, attachments)
}

func (m *PocketBaseMailer) SendReminder(ctx context.Context, msg ReminderEmail) error {
	html, err := m.templates.LoadString(reminderTemplate).Render(msg)
	if err != nil {
		return fmt.Errorf("render reminder email: %w", err)
	}
	return m.send(msg.Name, msg.Email, "Recordatorio: "+msg.Event.Title, html, nil)
}

func (m *PocketBaseMailer) SendOrderConfirmation(ctx context.Context, o *models.Order) error {
	html, err := m.templates.LoadString(orderPaidTemplate).Render(o)
	if err != nil {
		return fmt.Errorf("render order email: %w", err)
	}
	return m.send(o.Contact.Name, o.Contact.Email, "Pedido "+o.Number+" confirmado", html, nil)
}

func (m *PocketBaseMailer) SendOrderShipped(ctx context.Context, o *models.Order) error {
	html, err := m.templates.LoadString(orderShippedTemplate).Render(o)
	if err != nil {
		return fmt.Errorf("render shipped email: %w", err)
	}
	return m.send(o.Contact.Name, o.Contact.Email, "Pedido "+o.Number+" despachado", html, nil)
}

func (m *PocketBaseMailer) send(name, address, subject, html string, attachments map[string]io.Reader) error {
	return m.app.NewMailClient().Send(&mailer.Message{
		From:        m.from,
		To:          []mail.Address{{Name: name, Address: address}},
		Subject:     subject,
		HTML:        html,
		Attachments: attachments,
	})
}
