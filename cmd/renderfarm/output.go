// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"text/tabwriter"
	"time"
)

// emitJSON writes result as indented JSON when --json is set and
// reports whether it did. Nil slices are written as [].
func (a *app) emitJSON(result any) (bool, error) {
	if !a.jsonOutput {
		return false, nil
	}
	if v := reflect.ValueOf(result); v.Kind() == reflect.Slice && v.IsNil() {
		result = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return true, encoder.Encode(result)
}

// table returns a tabwriter over the output with the header row
// already written. Callers must Flush.
func (a *app) table(header string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(a.out, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, header)
	return tw
}

// age formats how long ago t was, relative to now, to the second.
func age(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
