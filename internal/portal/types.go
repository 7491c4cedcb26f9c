package portal

import "encoding/json"

// Wire-типы query/mutation API портала. Формат условный (exact parity
// с конкретным порталом — вне задач), но структура ответа реальная:
// data + список логических ошибок.

type request struct {
	Operation string `json:"operation"`
	Variables any    `json:"variables,omitempty"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []apiError      `json:"errors,omitempty"`
}

type apiError struct {
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Ref     string       `json:"ref,omitempty"` // id записи, к которой относится ошибка
	Fields  []FieldError `json:"fields,omitempty"`
}

// Credentials — вход start-login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

// TokenSet — выданные порталом токены.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // секунды
}

// Challenge — портал не узнал устройство и запустил подтверждение
// одноразовым кодом. State — непрозрачное транспортное состояние,
// которое надо вернуть в ConfirmLogin.
type Challenge struct {
	State    string `json:"state"`
	Delivery string `json:"delivery,omitempty"` // email|sms
}

// LoginResult: либо токены (устройство уже доверенное), либо challenge.
type LoginResult struct {
	Tokens    *TokenSet  `json:"tokens,omitempty"`
	Challenge *Challenge `json:"challenge,omitempty"`
}

// RenewInput — продление без challenge: доверенное устройство +
// секрет автоматизации.
type RenewInput struct {
	DeviceID         string `json:"deviceId"`
	RefreshToken     string `json:"refreshToken"`
	AutomationSecret string `json:"automationSecret"`
}

// ListingPayload — то, что уезжает на портал при create/update.
type ListingPayload struct {
	ExternalID string   `json:"externalId"` // бизнес-ключ
	Title      string   `json:"title"`
	Media      []string `json:"media,omitempty"` // remote-hosted URL'ы
}
