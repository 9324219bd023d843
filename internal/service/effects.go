package service

import (
	"context"
	"log"
	"math"
	"time"

	"kasirdapur/backend/internal/domain"
	"kasirdapur/backend/internal/notify"
)

// RunPostSaleEffects runs the exactly-once side effects of a committed
// sale. The PostEffectsCompleted flag on the sale is the idempotency
// guard: a sale that already carries it is a no-op. Statistics are
// recorded synchronously because cached aggregates elsewhere read them;
// the receipt is fire-and-forget and never fails the sale.
func (s *Service) RunPostSaleEffects(ctx context.Context, sale *domain.Sale) error {
	if sale.PostEffectsCompleted {
		log.Printf("[effects] post-sale effects already completed for %s, skipping", sale.ID)
		return nil
	}

	costOfGoods := int64(0)
	for _, item := range sale.Items {
		costOfGoods += int64(math.Round(float64(item.CostCents) * item.Quantity))
	}

	if s.stats != nil {
		if err := s.stats.RecordSale(ctx, *sale, costOfGoods); err != nil {
			return err
		}
	}

	if s.sender != nil && sale.CustomerPhone != "" {
		receipt := notify.RenderReceipt(*sale)
		phone := sale.CustomerPhone
		saleID := sale.ID
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.sender.SendReceipt(sendCtx, phone, receipt); err != nil {
				log.Printf("[effects] WARN: receipt dispatch failed for %s: %v", saleID, err)
			}
		}()
	}

	if err := s.repo.MarkSaleEffectsCompleted(ctx, sale.ID); err != nil {
		return err
	}
	sale.PostEffectsCompleted = true
	return nil
}
