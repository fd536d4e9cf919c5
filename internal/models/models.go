package models

import "time"

const DefaultTemplateKey = "cold_email"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Lead struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type PromptTemplate struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Version   int       `json:"version"`
	Label     string    `json:"label"`
	Body      string    `json:"body"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PromptRun is the audit record of one successful generation.
type PromptRun struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	LeadID          *string           `json:"leadId,omitempty"`
	TemplateID      int64             `json:"templateId"`
	TemplateKey     string            `json:"templateKey"`
	TemplateVersion int               `json:"templateVersion"`
	Language        string            `json:"language"`
	Formality       string            `json:"formality"`
	Variables       map[string]string `json:"variables"`
	FinalPrompt     string            `json:"finalPrompt"`
	Model           string            `json:"model"`
	TokenCount      int               `json:"tokenCount"`
	Subject         string            `json:"subject"`
	Body            string            `json:"body"`
	Response        string            `json:"response"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type CreditPurchase struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Credits     int       `json:"credits"`
	ProviderRef string    `json:"providerRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CreditBucket struct {
	BucketStart time.Time `json:"bucketStart"`
	Credits     int       `json:"credits"`
}
