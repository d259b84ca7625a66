package temporal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStarter(t *testing.T) {
	m := NewMockStarter()
	var _ PaymentStarter = m

	in := PayWorkflowInput{Payer: "A", Recipient: "C", Amount: dec("2")}
	id, err := m.StartPayment(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "pay-"))

	got, ok := m.Started(id)
	require.True(t, ok)
	assert.Equal(t, "A", got.Payer)
	assert.Equal(t, 1, m.Count())

	m.SetStartError(errors.New("temporal down"))
	_, err = m.StartPayment(context.Background(), in)
	assert.Error(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestWorkflowIDUnique(t *testing.T) {
	assert.NotEqual(t, workflowID(), workflowID())
}
