// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/coldpath/campaign-engine/internal/config"
	"github.com/coldpath/campaign-engine/internal/controller"
	"github.com/coldpath/campaign-engine/internal/db"
	"github.com/coldpath/campaign-engine/internal/handler"
	"github.com/coldpath/campaign-engine/internal/mail"
	"github.com/coldpath/campaign-engine/internal/queue"
	"github.com/coldpath/campaign-engine/internal/repository"
	"github.com/coldpath/campaign-engine/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	// Init DB
	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	trackingRepo := &repository.TrackingRepository{DB: db.DB}

	// QUEUE_BACKEND=memory keeps the executor in-process; QUEUE_BACKEND=amqp
	// publishes send jobs to RabbitMQ, where cmd/worker consumes them.
	var q queue.Queue
	switch cfg.QueueBackend {
	case "amqp":
		amqpQueue, err := queue.NewAMQPQueue(cfg.AMQPURL)
		if err != nil {
			log.Fatal("❌ Failed to connect to RabbitMQ:", err)
		}
		defer amqpQueue.Close()
		q = amqpQueue
		log.Println("Send jobs go to RabbitMQ, run cmd/worker to process them")
	default:
		memQueue := queue.NewInMemoryQueue()
		transport := mail.NewMockTransport(0.1, 0)
		executor := service.NewExecutor(campaignRepo, trackingRepo, transport,
			cfg.BaseURL, cfg.SendTimeout, cfg.MaxConsecutiveFailures)
		defer executor.Close()
		if err := memQueue.Subscribe(service.SendsTopic, executor.HandleJob); err != nil {
			log.Fatal("❌ Failed to subscribe executor:", err)
		}
		q = memQueue
	}

	dispatcher := service.NewDispatcher(campaignRepo, trackingRepo, q, cfg.PollInterval)
	dispatcher.Start()
	defer dispatcher.Stop()

	campaignService := service.NewCampaignService(campaignRepo, trackingRepo, service.ScheduleConfig{
		JitterMin: cfg.JitterMin,
		JitterMax: cfg.JitterMax,
	})
	analyticsService := service.NewAnalyticsService(campaignRepo, trackingRepo)

	reconciler := service.NewBounceReconciler(campaignRepo, trackingRepo, mail.NewMockMailbox())
	reconciler.Folder = cfg.BounceFolder
	reconciler.Window = cfg.BounceWindow
	reconciler.Timeout = cfg.BounceTimeout

	campaignController := controller.NewCampaignController(campaignService, analyticsService, reconciler)
	trackingHandler := handler.NewTrackingHandler(trackingRepo)

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/stop", campaignController.StopCampaign)
	r.Get("/campaigns/{id}/status", campaignController.GetStatus)
	r.Get("/campaigns/{id}/analytics", campaignController.GetAnalytics)
	r.Post("/campaigns/{id}/check-bounces", campaignController.CheckBounces)

	// Tracking routes, hit by mail clients
	r.Get("/tracking/open/{trackingID}", trackingHandler.TrackOpen)
	r.Get("/tracking/click/{trackingID}", trackingHandler.TrackClick)
	r.Get("/tracking/unsubscribe/{trackingID}", trackingHandler.Unsubscribe)
	r.Get("/tracking/email/{trackingID}", trackingHandler.GetTrackingDetails)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	log.Printf("🚀 Server running on %s", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}
