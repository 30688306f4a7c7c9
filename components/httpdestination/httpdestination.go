// Copyright (C) ENEO Tecnologia SL - 2024
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/lgpl-3.0.txt>.

// Package httpdestination is the reference Destination: item payloads are
// POSTed to an endpoint and HTTP responses are classified into delivery
// outcomes. With a register endpoint configured it becomes a session
// destination driven by the runner's registration state machine.
package httpdestination

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/redBorder/rbflusher/types"
)

// HTTPDestination delivers items over HTTP POST
type HTTPDestination struct {
	conf   Config
	client *http.Client
}

// New creates an HTTPDestination. Invalid URLs are a configuration error.
func New(conf Config) (*HTTPDestination, error) {
	if !govalidator.IsURL(conf.URL) {
		return nil, errors.New("invalid URL")
	}
	if conf.RegisterURL != "" && !govalidator.IsURL(conf.RegisterURL) {
		return nil, errors.New("invalid register URL")
	}

	client := conf.Client
	if client == nil {
		client = &http.Client{}
	}
	if conf.TimeoutMillis > 0 {
		client.Timeout = time.Duration(conf.TimeoutMillis) * time.Millisecond
	}

	return &HTTPDestination{conf: conf, client: client}, nil
}

// Send posts the item payload and classifies the response
func (d *HTTPDestination) Send(item *types.Item) types.DeliveryOutcome {
	req, err := http.NewRequest(http.MethodPost, d.conf.URL, bytes.NewReader(item.Payload))
	if err != nil {
		return types.ParamsError
	}
	req.Header.Set("Content-Type", contentType(item.Encoding))
	if item.Compression != "" && item.Compression != "none" {
		req.Header.Set("Content-Encoding", item.Compression)
	}
	req.Header.Set("X-Queue-Key", item.Key.String())

	res, err := d.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are the same class: try again
		return types.NetworkError
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	return classify(res.StatusCode)
}

// Register establishes a session when a register endpoint is configured.
// Without one registration trivially succeeds, so the runner's state machine
// settles on registered immediately.
func (d *HTTPDestination) Register() types.RegistrationResult {
	if d.conf.RegisterURL == "" {
		return types.RegistrationSuccess
	}

	res, err := d.client.Post(d.conf.RegisterURL, "application/json", nil)
	if err != nil {
		return types.RegistrationError
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return types.RegistrationSuccess
	}
	return types.RegistrationError
}

// classify maps an HTTP status to a delivery outcome. 429 signals transient
// quota contention, which retries like a network error.
func classify(status int) types.DeliveryOutcome {
	switch {
	case status >= 200 && status < 300:
		return types.Success
	case status == http.StatusTooManyRequests:
		return types.NetworkError
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.UnauthorizedError
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusRequestEntityTooLarge:
		return types.ParamsError
	case status >= 500:
		return types.ServerError
	default:
		return types.OtherError
	}
}

func contentType(encoding string) string {
	switch encoding {
	case "ndjson":
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
