package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config — адрес и фиксированные идентифицирующие заголовки, которые
// портал требует на каждом авторизованном вызове.
type Config struct {
	BaseURL      string
	Publisher    string
	Contract     string
	ClientID     string
	Company      string
	AppVersion   string
	ContractType string
	Timeout      time.Duration // таймаут одного вызова
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// do выполняет один query/mutation вызов. Классификация ответа, по
// порядку: транспортная ошибка → HTTP-статус → errors[] при 200 →
// data == null (сбой бэкенда) → декодирование data в out.
func (c *Client) do(ctx context.Context, token, kind, op string, vars, out any) error {
	body, err := json.Marshal(request{Operation: op, Variables: vars})
	if err != nil {
		return fmt.Errorf("portal %s: encode: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/"+kind, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("portal %s: request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	// обязательный идентификационный набор
	req.Header.Set("X-Publisher", c.cfg.Publisher)
	req.Header.Set("X-Contract", c.cfg.Contract)
	req.Header.Set("X-Client", c.cfg.ClientID)
	req.Header.Set("X-Company", c.cfg.Company)
	req.Header.Set("X-App-Version", c.cfg.AppVersion)
	req.Header.Set("X-Contract-Type", c.cfg.ContractType)

	resp, err := c.http.Do(req)
	if err != nil {
		k := KindConnection
		var ne net.Error
		if ctx.Err() == context.DeadlineExceeded || (errors.As(err, &ne) && ne.Timeout()) {
			k = KindTimeout
		}
		return &TransientError{Op: op, Kind: k, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Op: op, Reason: fmt.Sprintf("http %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{Op: op, RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{Op: op, Kind: KindServer,
			Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &TransientError{Op: op, Kind: KindServer,
			Err: fmt.Errorf("decode response: %w", err)}
	}

	// логическая ошибка на транспортно успешном ответе
	if len(env.Errors) > 0 {
		return classifyAPIError(op, env.Errors[0])
	}

	// null result без errors — сбой бэкенда портала
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &TransientError{Op: op, Kind: KindServer,
			Err: fmt.Errorf("null result")}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransientError{Op: op, Kind: KindServer,
			Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if d, err := time.ParseDuration(s + "s"); err == nil {
			return d
		}
	}
	return 30 * time.Minute
}

// ---- аутентификация ----

// Login начинает вход. Доверенное устройство получает токены сразу,
// незнакомое — challenge с одноразовым кодом.
func (c *Client) Login(ctx context.Context, in Credentials) (*LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, "", "mutation", "login", in, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ConfirmLogin завершает challenge: транспортное состояние + код.
func (c *Client) ConfirmLogin(ctx context.Context, state, code string) (*TokenSet, error) {
	vars := map[string]string{"state": state, "code": code}
	var ts TokenSet
	if err := c.do(ctx, "", "mutation", "confirmLogin", vars, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// RenewToken продлевает токены в обход challenge (устройство уже
// доверенное, секрет автоматизации вместо пароля).
func (c *Client) RenewToken(ctx context.Context, in RenewInput) (*TokenSet, error) {
	var ts TokenSet
	if err := c.do(ctx, "", "mutation", "renewToken", in, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// ---- листинги ----

func (c *Client) CreateListing(ctx context.Context, token string, p ListingPayload) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, token, "mutation", "createListing", p, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) UpdateListing(ctx context.Context, token, remoteID string, p ListingPayload) error {
	vars := struct {
		ID string `json:"id"`
		ListingPayload
	}{ID: remoteID, ListingPayload: p}
	return c.do(ctx, token, "mutation", "updateListing", vars, nil)
}

// FindByExternalID ищет запись по бизнес-ключу. Отсутствие — не
// ошибка: ("", nil).
func (c *Client) FindByExternalID(ctx context.Context, token, externalID string) (string, error) {
	vars := map[string]string{"externalId": externalID}
	var res struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, token, "query", "listingByExternalId", vars, &res)
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// DeleteListings удаляет пачку remote id одним вызовом.
func (c *Client) DeleteListings(ctx context.Context, token string, remoteIDs []string) error {
	vars := map[string][]string{"ids": remoteIDs}
	return c.do(ctx, token, "mutation", "deleteListings", vars, nil)
}

// UploadAsset регистрирует медиа-файл на портале и возвращает
// remote-hosted URL.
func (c *Client) UploadAsset(ctx context.Context, token, srcURL string) (string, error) {
	vars := map[string]string{"url": srcURL}
	var res struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, token, "mutation", "uploadAsset", vars, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}
