package services

import (
	"bytes"
	"fmt"

	"clubsite/models"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// IssuedTicket is a confirmed ticket together with the name of its type.
type IssuedTicket struct {
	Ticket   models.Ticket
	TypeName string
}

// RenderQRPNG encodes the scannable code of a ticket.
func RenderQRPNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = qrSize
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}

// RenderTicketPDF builds the single-page e-ticket attached to confirmation emails.
func RenderTicketPDF(ev *models.Event, it IssuedTicket) ([]byte, error) {
	png, err := RenderQRPNG(it.Ticket.QRCode, qrSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.Cell(0, 15, tr(ev.Title))
	pdf.Ln(16)

	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(8)

	yStart := pdf.GetY()
	pdf.SetFillColor(245, 245, 245)
	pdf.Rect(15, yStart, 120, 55, "F")

	pdf.SetXY(20, yStart+7)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, tr(it.TypeName))
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		"Titular: " + it.Ticket.Attendee.Name,
		"Documento: " + it.Ticket.Attendee.Document,
		"Fecha: " + ev.StartsAt.Format("02/01/2006 15:04"),
		"Lugar: " + ev.Location,
	} {
		pdf.Cell(0, 8, tr(line))
		pdf.Ln(6)
	}

	pdf.RegisterImageOptionsReader("qr", gofpdf.ImageOptions{ImageType: "png"}, bytes.NewReader(png))
	pdf.ImageOptions("qr", 145, yStart+5, 45, 0, false, gofpdf.ImageOptions{ImageType: "png"}, 0, "")

	pdf.SetY(yStart + 63)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.Cell(0, 6, tr("Presentá este código en el ingreso. Es personal y de un solo uso."))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
