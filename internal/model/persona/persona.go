package persona

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Language codes accepted for personas. They double as keys of the default
// voice table.
const (
	LanguagePortuguese = "pt-BR"
	LanguageEnglish    = "en"
	LanguageBritish    = "en-GB"
)

// Persona captures the role-playing attributes exposed to the frontend.
type Persona struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	SystemPrompt   string    `json:"system_prompt"`
	InitialMessage string    `json:"initial_message"`
	Language       string    `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateInput is the payload accepted when creating a persona.
type CreateInput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	SystemPrompt   string `json:"system_prompt"`
	InitialMessage string `json:"initial_message"`
	Language       string `json:"language"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	SystemPrompt   *string `json:"system_prompt"`
	InitialMessage *string `json:"initial_message"`
	Language       *string `json:"language"`
}

// ValidationError reports a persona payload that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate normalizes the input and checks field bounds.
func (in *CreateInput) Validate() error {
	if strings.TrimSpace(in.Language) == "" {
		in.Language = LanguagePortuguese
	}
	if err := checkName(in.Name); err != nil {
		return err
	}
	if err := checkDescription(in.Description); err != nil {
		return err
	}
	if err := checkSystemPrompt(in.SystemPrompt); err != nil {
		return err
	}
	if err := checkInitialMessage(in.InitialMessage); err != nil {
		return err
	}
	return checkLanguage(in.Language)
}

// Validate checks only the fields that are present.
func (in *UpdateInput) Validate() error {
	if in.Name != nil {
		if err := checkName(*in.Name); err != nil {
			return err
		}
	}
	if in.Description != nil {
		if err := checkDescription(*in.Description); err != nil {
			return err
		}
	}
	if in.SystemPrompt != nil {
		if err := checkSystemPrompt(*in.SystemPrompt); err != nil {
			return err
		}
	}
	if in.InitialMessage != nil {
		if err := checkInitialMessage(*in.InitialMessage); err != nil {
			return err
		}
	}
	if in.Language != nil {
		return checkLanguage(*in.Language)
	}
	return nil
}

// Empty reports whether the update carries no fields.
func (in *UpdateInput) Empty() bool {
	return in.Name == nil && in.Description == nil && in.SystemPrompt == nil &&
		in.InitialMessage == nil && in.Language == nil
}

// Apply copies the present fields onto p.
func (in *UpdateInput) Apply(p *Persona) {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.SystemPrompt != nil {
		p.SystemPrompt = *in.SystemPrompt
	}
	if in.InitialMessage != nil {
		p.InitialMessage = *in.InitialMessage
	}
	if in.Language != nil {
		p.Language = *in.Language
	}
}

func checkName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > 200 {
		return &ValidationError{Field: "name", Reason: "must be between 1 and 200 characters"}
	}
	return nil
}

func checkDescription(desc string) error {
	if utf8.RuneCountInString(desc) > 500 {
		return &ValidationError{Field: "description", Reason: "must be at most 500 characters"}
	}
	return nil
}

func checkSystemPrompt(prompt string) error {
	if utf8.RuneCountInString(prompt) < 10 {
		return &ValidationError{Field: "system_prompt", Reason: "must be at least 10 characters"}
	}
	return nil
}

func checkInitialMessage(msg string) error {
	if utf8.RuneCountInString(msg) < 1 {
		return &ValidationError{Field: "initial_message", Reason: "must not be empty"}
	}
	return nil
}

func checkLanguage(lang string) error {
	switch lang {
	case LanguagePortuguese, LanguageEnglish, LanguageBritish:
		return nil
	default:
		return &ValidationError{Field: "language", Reason: fmt.Sprintf("unsupported language %q", lang)}
	}
}

// Seed provides the default persona created on first start.
func Seed() CreateInput {
	return CreateInput{
		Name:        "Carlos Silva",
		Description: "Cliente leigo em tecnologia para treino de elicitação de requisitos - Projeto RecipeShare",
		SystemPrompt: "Você é Carlos Silva, dono de um pequeno restaurante que quer um aplicativo para " +
			"compartilhar receitas chamado RecipeShare. Você não entende de tecnologia e responde de forma " +
			"simples, com exemplos do dia a dia do restaurante. Revele os requisitos aos poucos, apenas " +
			"quando o entrevistador fizer boas perguntas. Responda sempre em português do Brasil, em no " +
			"máximo três frases.",
		InitialMessage: "Olá! Eu sou o Carlos, dono do restaurante. Me disseram que você pode me ajudar " +
			"com aquele aplicativo de receitas que eu tenho na cabeça. Por onde a gente começa?",
		Language: LanguagePortuguese,
	}
}
