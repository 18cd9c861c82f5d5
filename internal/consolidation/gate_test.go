package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func TestGateProposals_RejectsUngroundedProposal(t *testing.T) {
	eng, _, _, _, _ := newHarness(t)
	eng.gate = gateway.New(memory.New(), nil)

	proposals := []Proposal{
		{Index: 0, Kind: ProposalSemantic, SourceIDs: nil, Content: "no sources at all"},
	}

	require.NoError(t, eng.gateProposals(context.Background(), projectID, proposals))
	assert.Equal(t, VerdictReject, proposals[0].Verdict)
	assert.Equal(t, "dropped by verification gateway", proposals[0].Reason)
}

func TestGateProposals_AllowsGroundedProposal(t *testing.T) {
	eng, epi, _, _, _ := newHarness(t)
	eng.gate = gateway.New(memory.New(), nil)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	id := seedEvent(t, epi, "s1", base, types.EventObservation, "", "grounded content", "", types.OutcomeSuccess)

	proposals := []Proposal{
		{Index: 0, Kind: ProposalSemantic, SourceIDs: []types.ID{id}, Content: "grounded content"},
	}

	require.NoError(t, eng.gateProposals(context.Background(), projectID, proposals))
	assert.Empty(t, proposals[0].Verdict, "a grounded proposal must not be rejected by the gateway")
}
