package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
	"github.com/zapfunnel/zapfunnel/pkg/vault"
)

type Connection struct {
	Repo    crm.Repository
	Manager *whatsapp.Manager
	Vault   *vault.Vault
}

func InitRestConnection(app fiber.Router, repo crm.Repository, manager *whatsapp.Manager, v *vault.Vault) Connection {
	rest := Connection{Repo: repo, Manager: manager, Vault: v}
	app.Post("/connections", rest.Create)
	app.Get("/connections/:id", rest.Get)
	app.Delete("/connections/:id", rest.Delete)
	app.Post("/connections/:id/session", rest.EnsureSession)
	app.Get("/connections/:id/qr", rest.GetQR)
	app.Get("/connections/:id/availability", rest.Availability)
	app.Post("/connections/:id/validate-number", rest.ValidateNumber)
	return rest
}

type createConnectionRequest struct {
	CompanyID        string `json:"company_id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	PhoneNumber      string `json:"phone_number"`
	AccessToken      string `json:"access_token"`
	DefaultPersonaID string `json:"default_persona_id"`
}

func (r createConnectionRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CompanyID, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Type, validation.Required, validation.In(
			string(crm.ConnectionOfficialAPI), string(crm.ConnectionProtocolSession))),
	)
}

func (handler *Connection) Create(c *fiber.Ctx) error {
	var req createConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	if err := req.validate(); err != nil {
		panic(apperr.ValidationError(err.Error()))
	}

	conn := &crm.Connection{
		CompanyID:        req.CompanyID,
		Name:             req.Name,
		Type:             crm.ConnectionType(req.Type),
		PhoneNumber:      req.PhoneNumber,
		DefaultPersonaID: req.DefaultPersonaID,
		Status:           crm.StatusDisconnected,
		Active:           true,
	}

	if conn.Type == crm.ConnectionOfficialAPI {
		if req.AccessToken == "" {
			panic(apperr.ValidationError("access_token: cannot be blank for official-api connections."))
		}
		sealed, err := handler.Vault.Encrypt(req.AccessToken)
		PanicIfNeeded(err)
		conn.AccessToken = sealed
	}

	PanicIfNeeded(handler.Repo.CreateConnection(c.UserContext(), conn))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connection created",
		Results: conn,
	})
}

func (handler *Connection) Get(c *fiber.Ctx) error {
	conn, err := handler.Repo.GetConnection(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connection found",
		Results: conn,
	})
}

func (handler *Connection) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if handler.Manager.GetSession(id) != nil {
		PanicIfNeeded(handler.Manager.DeleteSession(c.UserContext(), id))
	}
	PanicIfNeeded(handler.Repo.DeleteConnection(c.UserContext(), id))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connection deleted",
	})
}

func (handler *Connection) EnsureSession(c *fiber.Ctx) error {
	sess, err := handler.Manager.EnsureSession(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session started",
		Results: map[string]any{
			"connection_id": sess.ConnectionID,
			"status":        sess.Status(),
		},
	})
}

func (handler *Connection) GetQR(c *fiber.Ctx) error {
	conn, err := handler.Repo.GetConnection(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "QR state",
		Results: map[string]any{
			"status":  conn.Status,
			"qr_code": conn.QRCode,
		},
	})
}

func (handler *Connection) Availability(c *fiber.Ctx) error {
	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Availability",
		Results: map[string]any{
			"available": handler.Manager.CheckAvailability(c.Params("id")),
		},
	})
}

type validateNumberRequest struct {
	Phone string `json:"phone"`
}

func (handler *Connection) ValidateNumber(c *fiber.Ctx) error {
	var req validateNumberRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}

	jid, registered, err := handler.Manager.ValidateNumber(c.UserContext(), c.Params("id"), req.Phone)
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Number validated",
		Results: map[string]any{
			"jid":        jid,
			"registered": registered,
		},
	})
}
