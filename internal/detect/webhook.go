package detect

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// WebhookSource receives decoded detection events pushed by an external
// indexer over HTTP.
type WebhookSource struct {
	app     *fiber.App
	host    string
	port    int
	handler Handler
}

// NewWebhookSource creates the HTTP detection receiver.
func NewWebhookSource(host string, port int) *WebhookSource {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &WebhookSource{app: app, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *WebhookSource) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	s.app.Post("/detection", s.handleDetection)
}

func (s *WebhookSource) handleDetection(c *fiber.Ctx) error {
	var event Event
	if err := c.BodyParser(&event); err != nil {
		log.Error().Err(err).Msg("failed to parse detection payload")
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}

	if event.Mint == "" || event.BondingCurve == "" {
		return c.Status(400).JSON(fiber.Map{"error": "mint and bondingCurve are required"})
	}

	event.Source = SourceWebhook
	if event.DetectedAt == 0 {
		event.DetectedAt = time.Now().UnixMilli()
	}

	log.Debug().
		Str("mint", event.Mint).
		Str("name", event.Name).
		Msg("detection received via webhook")

	if s.handler != nil {
		s.handler(&event)
	}
	return c.JSON(fiber.Map{"status": "received"})
}

// Start begins serving in a background goroutine and returns at once.
// Listen failures are logged, not returned.
func (s *WebhookSource) Start(handler Handler) error {
	s.handler = handler
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting detection webhook server")
	go func() {
		if err := s.app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("detection webhook server failed")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *WebhookSource) Stop() error {
	return s.app.Shutdown()
}
