// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// JSONResponse is the envelope printed in --json mode.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response to w.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// writer collects the first write error so human output stays terse.
type writer struct {
	w   io.Writer
	err error
}

func newWriter(w io.Writer) *writer { return &writer{w: w} }

func (w *writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// output prints data as a JSON envelope in --json mode and through human
// otherwise.
func output(cmd *cobra.Command, g *globalFlags, command string, data any, human func(w *writer)) error {
	if g.json {
		return NewJSONResponse(command, data).Write(cmd.OutOrStdout())
	}
	w := newWriter(cmd.OutOrStdout())
	human(w)
	return w.err
}

// fail prints err as a JSON envelope in --json mode and returns it.
func fail(cmd *cobra.Command, g *globalFlags, command string, err error) error {
	if g.json {
		if werr := NewJSONErrorResponse(command, err).Write(cmd.OutOrStdout()); werr != nil {
			return werr
		}
	}
	return err
}
