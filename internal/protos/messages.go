package protos

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// GMO is the subset of GetMapObjectsOutProto the receiver reads.
type GMO struct {
	MapCells int
}

// ParseGMO counts the map cells of a GetMapObjects response.
func ParseGMO(b []byte) (GMO, error) {
	var g GMO
	err := walk(b, func(f field) {
		if f.num == gmoMapCell && f.typ == protowire.BytesType {
			g.MapCells++
		}
	})
	return g, err
}

// FortSearch is the subset of FortSearchOutProto the receiver reads.
type FortSearch struct {
	Result            int
	FortID            string
	HasChallengeQuest bool
	HasQuestRewards   bool
}

// ParseFortSearch decodes a FortSearch response.
func ParseFortSearch(b []byte) (FortSearch, error) {
	var fs FortSearch
	var quest []byte
	err := walk(b, func(f field) {
		switch {
		case f.num == fortSearchResult && f.typ == protowire.VarintType:
			fs.Result = int(f.varint)
		case f.num == fortSearchFortID && f.typ == protowire.BytesType:
			fs.FortID = string(f.bytes)
		case f.num == fortSearchChallengeQuest && f.typ == protowire.BytesType:
			fs.HasChallengeQuest = true
			quest = f.bytes
		}
	})
	if err != nil {
		return fs, err
	}
	if fs.HasChallengeQuest {
		fs.HasQuestRewards, err = questHasRewards(quest)
	}
	return fs, err
}

func questHasRewards(clientQuest []byte) (bool, error) {
	var inner []byte
	err := walk(clientQuest, func(f field) {
		if f.num == clientQuestQuest && f.typ == protowire.BytesType {
			inner = f.bytes
		}
	})
	if err != nil || inner == nil {
		return false, err
	}
	found := false
	err = walk(inner, func(f field) {
		if f.num == questRewards && f.typ == protowire.BytesType {
			found = true
		}
	})
	return found, err
}

// Encounter is the subset of EncounterOutProto the receiver reads.
type Encounter struct {
	Status int
}

// ParseEncounter decodes an Encounter response.
func ParseEncounter(b []byte) (Encounter, error) {
	var e Encounter
	err := walk(b, func(f field) {
		if f.num == encounterStatus && f.typ == protowire.VarintType {
			e.Status = int(f.varint)
		}
	})
	return e, err
}

// GetRoutes is the subset of GetRoutesOutProto the receiver reads.
type GetRoutes struct {
	RouteMapCells int
}

// ParseGetRoutes counts the route map cells of a GetRoutes response.
func ParseGetRoutes(b []byte) (GetRoutes, error) {
	var r GetRoutes
	err := walk(b, func(f field) {
		if f.num == getRoutesRouteMapCell && f.typ == protowire.BytesType {
			r.RouteMapCells++
		}
	})
	return r, err
}
