// Package protos validates intercepted proto envelopes and extracts the few
// fields the receiver needs to decide whether a message is worth forwarding.
package protos

import (
	"strconv"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// allowed is the fixed set of method ids the receiver forwards.
var allowed = map[domain.MethodID]bool{
	domain.MethodGMO:              true,
	domain.MethodEncounter:        true,
	domain.MethodFortSearch:       true,
	domain.MethodFortDetails:      true,
	domain.MethodGetHoloInventory: true,
	domain.MethodGymGetInfo:       true,
	domain.MethodDiskEncounter:    true,
	domain.MethodGetRoutes:        true,
}

// Allowed reports whether a method id is on the allow-list.
func Allowed(id domain.MethodID) bool {
	return allowed[id]
}

// Key is the tracking-table key for a method id.
func Key(id domain.MethodID) string {
	return strconv.Itoa(int(id))
}

// Field numbers of the response messages we inspect.
const (
	gmoMapCell = 1

	fortSearchResult         = 1
	fortSearchFortID         = 13
	fortSearchChallengeQuest = 14
	clientQuestQuest         = 1
	questRewards             = 16

	encounterStatus = 3

	getRoutesRouteMapCell = 1
)

// Result codes with special meaning.
const (
	FortSearchOutOfRange = 2
	EncounterSuccess     = 1
)
