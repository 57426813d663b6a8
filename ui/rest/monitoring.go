package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
	"github.com/zapfunnel/zapfunnel/pkg/breaker"
	"github.com/zapfunnel/zapfunnel/pkg/msgworker"
)

type Monitoring struct {
	Repo    crm.Repository
	Manager *whatsapp.Manager
	Pool    *msgworker.Pool
	Breaker *breaker.Registry
}

func InitRestMonitoring(app fiber.Router, repo crm.Repository, manager *whatsapp.Manager, pool *msgworker.Pool, br *breaker.Registry) Monitoring {
	rest := Monitoring{Repo: repo, Manager: manager, Pool: pool, Breaker: br}
	app.Get("/monitoring/health", rest.Health)
	app.Get("/monitoring/sessions", rest.Sessions)
	app.Get("/monitoring/workerpool", rest.WorkerPool)
	app.Get("/monitoring/breaker/:provider", rest.BreakerStats)
	app.Get("/monitoring/logs", rest.Logs)
	return rest
}

func (handler *Monitoring) Health(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "ok",
	})
}

func (handler *Monitoring) Sessions(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Sessions",
		Results: handler.Manager.GetAllSessions(),
	})
}

func (handler *Monitoring) WorkerPool(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Worker pool stats",
		Results: handler.Pool.GetStats(),
	})
}

func (handler *Monitoring) BreakerStats(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Breaker stats",
		Results: handler.Breaker.GetStats(c.Params("provider")),
	})
}

func (handler *Monitoring) Logs(c *fiber.Ctx) error {
	companyID := c.Query("company_id")
	if companyID == "" {
		panic(apperr.ValidationError("company_id: cannot be blank."))
	}
	var since time.Time
	if hours := c.QueryInt("hours", 24); hours > 0 {
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	logs, err := handler.Repo.ListLogs(c.UserContext(), companyID, since, c.QueryInt("limit", 200))
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Automation logs",
		Results: logs,
	})
}
