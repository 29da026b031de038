package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/quillhost/quill/domain"
)

// StartDeliveryWorker runs the background loop that drains the delivery
// queue. It stops when the context is cancelled.
func (s *Service) StartDeliveryWorker(ctx context.Context) {
	log.Println("Starting federation delivery worker...")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processDeliveryQueue()
			}
		}
	}()
}

func (s *Service) processDeliveryQueue() {
	// Max 50 at a time.
	err, items := s.Db.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}

	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if err := s.deliverQueuedActivity(&item); err != nil {
			// Failed delivery, retry with exponential backoff
			item.Attempts++
			backoffMinutes := []int{1, 5, 15, 60, 240, 1440}[min(item.Attempts-1, 5)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)

			if item.Attempts >= 10 {
				// Give up after 10 attempts
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
				s.Db.DeleteDelivery(item.Id)
			} else {
				log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
					item.InboxURI, item.Attempts, backoffMinutes, err)
				s.Db.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
			}
		} else {
			log.Printf("DeliveryWorker: Successfully delivered to %s", item.InboxURI)
			s.Db.DeleteDelivery(item.Id)
		}
	}
}

// deliverQueuedActivity signs and sends one queued activity as the actor
// it was queued for.
func (s *Service) deliverQueuedActivity(item *domain.DeliveryQueueItem) error {
	var activity map[string]interface{}
	if err := json.Unmarshal([]byte(item.ActivityJSON), &activity); err != nil {
		return fmt.Errorf("failed to parse activity JSON: %w", err)
	}

	err, actor := s.Db.ReadActorById(item.ActorId)
	if err != nil || actor == nil {
		return fmt.Errorf("failed to get signing actor %s: %w", item.ActorId, err)
	}

	return s.Sender.Send(activity, item.InboxURI, actor)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
