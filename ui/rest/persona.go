package rest

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/pkg/apperr"
)

type Persona struct {
	Repo crm.Repository
}

func InitRestPersona(app fiber.Router, repo crm.Repository) Persona {
	rest := Persona{Repo: repo}
	app.Get("/personas", rest.List)
	app.Post("/personas", rest.Create)
	app.Get("/personas/:id", rest.Get)
	app.Put("/personas/:id", rest.Update)
	app.Delete("/personas/:id", rest.Delete)
	return rest
}

type personaRequest struct {
	CompanyID    string  `json:"company_id"`
	Name         string  `json:"name"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	UseRAG       bool    `json:"use_rag"`
	Temperature  float64 `json:"temperature"`
	Active       bool    `json:"active"`
}

func (r personaRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CompanyID, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Temperature, validation.Min(0.0), validation.Max(2.0)),
	)
}

func (handler *Persona) List(c *fiber.Ctx) error {
	companyID := c.Query("company_id")
	if companyID == "" {
		panic(apperr.ValidationError("company_id: cannot be blank."))
	}
	personas, err := handler.Repo.ListPersonas(c.UserContext(), companyID)
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Personas listed",
		Results: personas,
	})
}

func (handler *Persona) Create(c *fiber.Ctx) error {
	var req personaRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	if err := req.validate(); err != nil {
		panic(apperr.ValidationError(err.Error()))
	}

	persona := &crm.Persona{
		CompanyID:    req.CompanyID,
		Name:         req.Name,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		UseRAG:       req.UseRAG,
		Temperature:  req.Temperature,
		Active:       true,
	}
	PanicIfNeeded(handler.Repo.CreatePersona(c.UserContext(), persona))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Persona created",
		Results: persona,
	})
}

func (handler *Persona) Get(c *fiber.Ctx) error {
	persona, err := handler.Repo.GetPersona(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Persona found",
		Results: persona,
	})
}

func (handler *Persona) Update(c *fiber.Ctx) error {
	persona, err := handler.Repo.GetPersona(c.UserContext(), c.Params("id"))
	PanicIfNeeded(err)

	var req personaRequest
	if err := c.BodyParser(&req); err != nil {
		panic(apperr.ValidationError("invalid request body"))
	}
	if err := req.validate(); err != nil {
		panic(apperr.ValidationError(err.Error()))
	}

	persona.Name = req.Name
	persona.Provider = req.Provider
	persona.Model = req.Model
	persona.SystemPrompt = req.SystemPrompt
	persona.UseRAG = req.UseRAG
	persona.Temperature = req.Temperature
	persona.Active = req.Active
	PanicIfNeeded(handler.Repo.UpdatePersona(c.UserContext(), persona))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Persona updated",
		Results: persona,
	})
}

func (handler *Persona) Delete(c *fiber.Ctx) error {
	PanicIfNeeded(handler.Repo.DeletePersona(c.UserContext(), c.Params("id")))

	return c.JSON(ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Persona deleted",
	})
}
