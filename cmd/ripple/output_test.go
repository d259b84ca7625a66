package main

import (
	"bytes"
	"testing"

	"github.com/brojonat/ripple/service/ledger"
	natspkg "github.com/brojonat/ripple/service/nats"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQFilterMatching(t *testing.T) {
	event := &natspkg.PaymentEvent{
		PaymentID: "p1",
		Payer:     "alice",
		Recipient: "carol",
		Amount:    decimal.RequireFromString("12.5"),
		Memo:      "rent",
		Transfers: 2,
	}

	tests := []struct {
		name        string
		jqFilter    string
		expectMatch bool
	}{
		{
			name:        "payer match",
			jqFilter:    `.payer == "alice"`,
			expectMatch: true,
		},
		{
			name:        "payer mismatch",
			jqFilter:    `.payer == "bob"`,
			expectMatch: false,
		},
		{
			name:        "decimal amount compares as number",
			jqFilter:    `(.amount | tonumber) == 12.5`,
			expectMatch: true,
		},
		{
			name:        "amount threshold",
			jqFilter:    `(.amount | tonumber) > 50`,
			expectMatch: false,
		},
		{
			name:        "contains memo",
			jqFilter:    `. | contains({memo: "rent"})`,
			expectMatch: true,
		},
		{
			name:        "null result is falsy",
			jqFilter:    `.missing`,
			expectMatch: false,
		},
		{
			name:        "runtime error does not match",
			jqFilter:    `.payer | tonumber`,
			expectMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJQ(tt.jqFilter)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matchesAll([]*gojq.Code{code}, event))
		})
	}
}

func TestMatchesAll_RequiresEveryFilter(t *testing.T) {
	event := &natspkg.PaymentEvent{Payer: "alice", Recipient: "carol", Amount: decimal.NewFromInt(5)}

	payer, err := compileJQ(`.payer == "alice"`)
	require.NoError(t, err)
	recipient, err := compileJQ(`.recipient == "dave"`)
	require.NoError(t, err)

	assert.True(t, matchesAll([]*gojq.Code{payer}, event))
	assert.False(t, matchesAll([]*gojq.Code{payer, recipient}, event))
	assert.True(t, matchesAll(nil, event))
}

func TestCompileJQ_InvalidFilter(t *testing.T) {
	_, err := compileJQ(`.payer ==`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestRunJQ_MultipleResults(t *testing.T) {
	accounts := []ledger.Account{{ID: "A", DisplayName: "alice"}, {ID: "B", DisplayName: "bob"}}

	code, err := compileJQ(`.[].id`)
	require.NoError(t, err)
	results, err := runJQ(code, accounts)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"A", "B"}, results)

	var buf bytes.Buffer
	require.NoError(t, printJQResults(&buf, results))
	assert.Equal(t, "A\nB\n", buf.String())
}

func TestPrintJQResults_EncodesNonStrings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJQResults(&buf, []interface{}{map[string]interface{}{"n": 1.0}, true}))
	assert.Equal(t, "{\"n\":1}\ntrue\n", buf.String())
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
