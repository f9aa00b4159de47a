package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// apiError is a non-2xx answer of the chat server.
type apiError struct {
	Status int
	Msg    string
	Kind   string
	Class  string
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server: %d", e.Status)
	if e.Kind != "" {
		b.WriteString(" " + e.Kind)
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Class != "" {
		b.WriteString(" (" + e.Class + ")")
	}
	return b.String()
}

// client speaks the REST API.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base string, hc *http.Client) *client {
	return &client{base: strings.TrimRight(base, "/"), http: hc}
}

// do sends in as JSON (when not nil) and decodes a 2xx answer into out.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
			Class string `json:"class"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)
		return &apiError{Status: resp.StatusCode, Msg: eb.Error, Kind: eb.Kind, Class: eb.Class}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
