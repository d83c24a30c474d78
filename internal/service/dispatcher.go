// internal/service/dispatcher.go
package service

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/queue"
	"github.com/coldpath/campaign-engine/internal/repository"
)

// SendsTopic is the queue carrying dispatch jobs to the send executor.
const SendsTopic = "campaign_sends"

// SendJob is the payload published for one due tracking record.
type SendJob struct {
	TrackingID string `json:"tracking_id"`
}

// Dispatcher owns the single scheduling tick for all campaigns. Each tick it
// activates campaigns whose start time arrived, publishes every due pending
// record as a send job, and completes campaigns whose window closed with all
// records resolved. A stop is observed at the latest on the next tick,
// because stopped campaigns simply stop being selected.
type Dispatcher struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TrackingRepo repository.TrackingRepositoryInterface
	Queue        queue.Queue
	Interval     time.Duration
	Now          func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(campaigns repository.CampaignRepositoryInterface,
	tracking repository.TrackingRepositoryInterface, q queue.Queue, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Dispatcher{
		CampaignRepo: campaigns,
		TrackingRepo: tracking,
		Queue:        q,
		Interval:     interval,
		Now:          time.Now,
		stop:         make(chan struct{}),
	}
}

// Start begins the polling loop. It runs until Stop() is called.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	log.Println("🚀 dispatcher starting")
	d.wg.Add(1)
	go d.runLoop()
	return nil
}

// Stop signals the loop to stop and waits for the current tick to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()
	log.Println("dispatcher stopped")
}

func (d *Dispatcher) runLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			if err := d.Tick(now.UTC()); err != nil {
				log.Printf("dispatcher: tick error: %v", err)
			}
		}
	}
}

// Tick runs one scheduling pass at the given instant.
func (d *Dispatcher) Tick(now time.Time) error {
	campaigns, err := d.CampaignRepo.ListByStatus(model.StatusScheduled, model.StatusActive)
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		if c.Status == model.StatusScheduled {
			if now.Before(c.StartTime) {
				continue
			}
			changed, err := d.CampaignRepo.TransitionStatus(c.ID,
				model.TransitionSources(model.StatusActive), model.StatusActive)
			if err != nil {
				log.Printf("dispatcher: cannot activate campaign %s: %v", c.ID, err)
				continue
			}
			if !changed {
				// Lost the race to a stop; leave it alone.
				continue
			}
			c.Status = model.StatusActive
			log.Printf("🚀 campaign %s active", c.ID)
		}

		due, err := d.TrackingRepo.ListDue(c.ID, now)
		if err != nil {
			log.Printf("dispatcher: cannot list due records for %s: %v", c.ID, err)
			continue
		}
		for _, rec := range due {
			body, _ := json.Marshal(SendJob{TrackingID: rec.TrackingID})
			if err := d.Queue.Publish(SendsTopic, body); err != nil {
				log.Printf("dispatcher: cannot enqueue %s: %v", rec.TrackingID, err)
			}
		}

		if now.After(c.EndTime()) {
			d.maybeComplete(c)
		}
	}
	return nil
}

// maybeComplete finishes a campaign whose window has closed once every
// record has a terminal outcome. In-flight sends keep their record pending,
// so completion naturally waits for them.
func (d *Dispatcher) maybeComplete(c *model.Campaign) {
	counts, err := d.TrackingRepo.CountByOutcome(c.ID)
	if err != nil {
		log.Printf("dispatcher: cannot count outcomes for %s: %v", c.ID, err)
		return
	}
	if counts[model.OutcomePending] > 0 {
		return
	}

	changed, err := d.CampaignRepo.TransitionStatus(c.ID,
		model.TransitionSources(model.StatusCompleted), model.StatusCompleted)
	if err != nil {
		log.Printf("dispatcher: cannot complete campaign %s: %v", c.ID, err)
		return
	}
	if changed {
		log.Printf("✅ campaign %s completed", c.ID)
	}
}
