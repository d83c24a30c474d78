// cmd/worker/main.go
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/coldpath/campaign-engine/internal/config"
	"github.com/coldpath/campaign-engine/internal/db"
	"github.com/coldpath/campaign-engine/internal/mail"
	"github.com/coldpath/campaign-engine/internal/queue"
	"github.com/coldpath/campaign-engine/internal/repository"
	"github.com/coldpath/campaign-engine/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	trackingRepo := &repository.TrackingRepository{DB: db.DB}

	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to RabbitMQ:", err)
	}
	defer q.Close()

	transport := mail.NewMockTransport(0.1, 0)
	executor := service.NewExecutor(campaignRepo, trackingRepo, transport,
		cfg.BaseURL, cfg.SendTimeout, cfg.MaxConsecutiveFailures)
	defer executor.Close()

	if err := q.Subscribe(service.SendsTopic, executor.HandleJob); err != nil {
		log.Fatal("❌ Failed to register consumer:", err)
	}

	forever := make(chan bool)
	log.Println("Worker running, waiting for messages...")
	<-forever
}
