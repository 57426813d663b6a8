package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/whatsapp"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
)

type Conversation struct {
	Repo    crm.Repository
	Manager *whatsapp.Manager
}

func InitRestConversation(app fiber.Router, repo crm.Repository, manager *whatsapp.Manager) Conversation {
	rest := Conversation{Repo: repo, Manager: manager}
	app.Get("/conversations", rest.List)
	app.Get("/conversations/:id", rest.Get)
	app.Get("/conversations/:id/messages", rest.Messages)
	app.Post("/conversations/:id/messages", rest.SendMessage)
	app.Put("/conversations/:id/ai", rest.SetAI)
	app.Put("/conversations/:id/persona", rest.SetPersona)
	app.Put("/conversations/:id/archive", rest.Archive)
	return rest
}

func (handler *Conversation) List(c *fiber.Ctx) error {
	companyID := c.Query("company_id")
	if companyID == "" {
		panic(apperr.ValidationError("company_id: cannot be blank."))
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	convs, err := handler.Repo.ListConversations(c.UserContext(), companyID, limit, offset)
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversations listed",
		Results: convs,
	})
}

func (handler *Conversation) Get(c *fiber.Ctx) error {
	conv, err := handler.Repo.GetConversation(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversation found",
		Results: conv,
	})
}

func (handler *Conversation) Messages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	msgs, err := handler.Repo.ListHistory(c.UserContext(), c.Params("id"), limit)
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Messages listed",
		Results: msgs,
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
	To   string `json:"to"`
}

func (r sendMessageRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required),
		validation.Field(&r.To, validation.Required),
	)
}

// SendMessage is the agent takeover path: a human operator replies through
// the conversation's connection.
func (handler *Conversation) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	if err := req.validate(); err != nil {
		panic(apperr.ValidationError(err.Error()))
	}

	conv, err := handler.Repo.GetConversation(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	providerID := handler.Manager.SendText(c.UserContext(), conv.ConnectionID, req.To, req.Text)
	status := "sent"
	if providerID == "" {
		status = "failed"
	}

	msg := &crm.Message{
		ConversationID:    conv.ID,
		ProviderMessageID: providerID,
		SenderType:        crm.SenderAgent,
		Content:           req.Text,
		ContentType:       crm.ContentText,
		Status:            status,
	}
	PanicIfNeeded(handler.Repo.SaveOutbound(c.UserContext(), msg))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: msg,
	})
}

type setAIRequest struct {
	Active bool `json:"active"`
}

func (handler *Conversation) SetAI(c *fiber.Ctx) error {
	var req setAIRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	PanicIfNeeded(handler.Repo.SetConversationAI(c.UserContext(), c.Params("id"), req.Active))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "AI flag updated",
	})
}

type setPersonaRequest struct {
	PersonaID string `json:"persona_id"`
}

func (handler *Conversation) SetPersona(c *fiber.Ctx) error {
	var req setPersonaRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	PanicIfNeeded(handler.Repo.SetConversationPersona(c.UserContext(), c.Params("id"), req.PersonaID))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Persona override updated",
	})
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

func (handler *Conversation) Archive(c *fiber.Ctx) error {
	var req archiveRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	PanicIfNeeded(handler.Repo.ArchiveConversation(c.UserContext(), c.Params("id"), req.Archived))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Archive flag updated",
	})
}
