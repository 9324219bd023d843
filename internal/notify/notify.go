package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"kasirdapur/backend/internal/domain"
)

// Sender delivers a rendered receipt to a customer. Delivery is
// best-effort; callers must tolerate failure.
type Sender interface {
	SendReceipt(ctx context.Context, phone string, text string) error
}

// LogSender writes receipts to the process log. Used when no webhook is
// configured and in tests.
type LogSender struct{}

func (LogSender) SendReceipt(_ context.Context, phone string, text string) error {
	log.Printf("[notify] receipt for %s:\n%s", phone, text)
	return nil
}

type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSender) SendReceipt(ctx context.Context, phone string, text string) error {
	payload, err := json.Marshal(map[string]string{
		"phone":   phone,
		"message": text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("receipt webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderReceipt produces the plain-text receipt body for a committed sale.
func RenderReceipt(sale domain.Sale) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KasirDapur\nStruk %s\n%s\n", sale.ID, sale.CreatedAt.Format("2006-01-02 15:04"))
	b.WriteString("--------------------------------\n")
	for _, item := range sale.Items {
		fmt.Fprintf(&b, "%-20s %5.1f x %s\n", item.Name, item.Quantity, formatRupiah(item.PriceCents))
		for _, mod := range item.Modifiers {
			fmt.Fprintf(&b, "  + %s x%.1f\n", mod.IngredientSKU, mod.Quantity)
		}
	}
	b.WriteString("--------------------------------\n")
	fmt.Fprintf(&b, "TOTAL %s\n", formatRupiah(sale.TotalCents))
	fmt.Fprintf(&b, "Bayar: %s\nTerima kasih!\n", sale.PaymentMethod)
	return b.String()
}

func formatRupiah(cents int64) string {
	return fmt.Sprintf("Rp%d.%02d", cents/100, cents%100)
}
