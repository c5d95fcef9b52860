package roster

import (
	"fmt"
	"strings"

	"github.com/yourusername/agent-roster/internal/storage"
)

const (
	PlayersFilename   = "players.xlsx"
	ClubsFilename     = "clubs.xlsx"
	ContractsFilename = "contracts.xlsx"
	MatchesFilename   = "matches.xlsx"
)

var playersSchema = storage.Schema{
	Sheet: "Players",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt},
		{Name: "name", Kind: storage.KindString},
		{Name: "position", Kind: storage.KindString},
		{Name: "nationality", Kind: storage.KindString, Optional: true},
		{Name: "age", Kind: storage.KindInt, Optional: true},
		{Name: "currentClub", Kind: storage.KindString, Optional: true},
		{Name: "marketValue", Kind: storage.KindString, Optional: true},
		{Name: "image", Kind: storage.KindString, Optional: true},
		{Name: "status", Kind: storage.KindString},
		{Name: "representedSince", Kind: storage.KindString, Optional: true},
	},
}

type playerCodec struct{}

func (playerCodec) Encode(p Player) []any {
	return []any{p.ID, p.Name, p.Position, p.Nationality, p.Age, p.CurrentClub, p.MarketValue, p.Image, string(p.Status), p.RepresentedSince}
}

func (playerCodec) Decode(r storage.Row) (Player, error) {
	p := Player{
		ID:               r.Int("id"),
		Name:             r.String("name"),
		Position:         r.String("position"),
		Nationality:      r.String("nationality"),
		Age:              r.Int("age"),
		CurrentClub:      r.String("currentClub"),
		MarketValue:      r.String("marketValue"),
		Image:            r.String("image"),
		Status:           PlayerStatus(r.String("status")),
		RepresentedSince: r.String("representedSince"),
	}
	if !p.Status.valid() {
		return Player{}, fmt.Errorf("unknown player status %q", p.Status)
	}
	return p, nil
}

func (playerCodec) ID(p Player) int { return p.ID }

func (playerCodec) WithID(p Player, id int) Player {
	p.ID = id
	return p
}

var clubsSchema = storage.Schema{
	Sheet: "Clubs",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt},
		{Name: "name", Kind: storage.KindString},
		{Name: "location", Kind: storage.KindString, Optional: true},
		{Name: "league", Kind: storage.KindString, Optional: true},
		{Name: "logo", Kind: storage.KindString, Optional: true},
		{Name: "email", Kind: storage.KindString, Optional: true},
		{Name: "phone", Kind: storage.KindString, Optional: true},
		{Name: "website", Kind: storage.KindString, Optional: true},
		{Name: "playersManaged", Kind: storage.KindInt, Optional: true},
		{Name: "activeContracts", Kind: storage.KindInt, Optional: true},
	},
}

type clubCodec struct{}

func (clubCodec) Encode(c Club) []any {
	return []any{c.ID, c.Name, c.Location, c.League, c.Logo, c.Email, c.Phone, c.Website, c.PlayersManaged, c.ActiveContracts}
}

func (clubCodec) Decode(r storage.Row) (Club, error) {
	return Club{
		ID:              r.Int("id"),
		Name:            r.String("name"),
		Location:        r.String("location"),
		League:          r.String("league"),
		Logo:            r.String("logo"),
		Email:           r.String("email"),
		Phone:           r.String("phone"),
		Website:         r.String("website"),
		PlayersManaged:  r.Int("playersManaged"),
		ActiveContracts: r.Int("activeContracts"),
	}, nil
}

func (clubCodec) ID(c Club) int { return c.ID }

func (clubCodec) WithID(c Club, id int) Club {
	c.ID = id
	return c
}

var contractsSchema = storage.Schema{
	Sheet: "Contracts",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt},
		{Name: "playerId", Kind: storage.KindInt},
		{Name: "playerName", Kind: storage.KindString, Optional: true},
		{Name: "clubId", Kind: storage.KindInt},
		{Name: "clubName", Kind: storage.KindString, Optional: true},
		{Name: "startDate", Kind: storage.KindString},
		{Name: "endDate", Kind: storage.KindString},
		{Name: "fee", Kind: storage.KindString, Optional: true},
		{Name: "status", Kind: storage.KindString},
		{Name: "document", Kind: storage.KindString, Optional: true},
		{Name: "documentPages", Kind: storage.KindInt, Optional: true},
	},
}

type contractCodec struct{}

func (contractCodec) Encode(c Contract) []any {
	return []any{c.ID, c.PlayerID, c.PlayerName, c.ClubID, c.ClubName, c.StartDate, c.EndDate, c.Fee, string(c.Status), c.Document, c.DocumentPages}
}

func (contractCodec) Decode(r storage.Row) (Contract, error) {
	c := Contract{
		ID:            r.Int("id"),
		PlayerID:      r.Int("playerId"),
		PlayerName:    r.String("playerName"),
		ClubID:        r.Int("clubId"),
		ClubName:      r.String("clubName"),
		StartDate:     r.String("startDate"),
		EndDate:       r.String("endDate"),
		Fee:           r.String("fee"),
		Status:        ContractStatus(r.String("status")),
		Document:      r.String("document"),
		DocumentPages: r.Int("documentPages"),
	}
	if !c.Status.valid() {
		return Contract{}, fmt.Errorf("unknown contract status %q", c.Status)
	}
	return c, nil
}

func (contractCodec) ID(c Contract) int { return c.ID }

func (contractCodec) WithID(c Contract, id int) Contract {
	c.ID = id
	return c
}

var matchesSchema = storage.Schema{
	Sheet: "Matches",
	Columns: []storage.Column{
		{Name: "id", Kind: storage.KindInt},
		{Name: "homeTeam", Kind: storage.KindString},
		{Name: "awayTeam", Kind: storage.KindString},
		{Name: "date", Kind: storage.KindString},
		{Name: "venue", Kind: storage.KindString, Optional: true},
		{Name: "status", Kind: storage.KindString},
		{Name: "result", Kind: storage.KindString, Optional: true},
		{Name: "managedPlayers", Kind: storage.KindString, Optional: true},
	},
}

type matchCodec struct{}

func (matchCodec) Encode(m Match) []any {
	return []any{m.ID, m.HomeTeam, m.AwayTeam, m.Date, m.Venue, string(m.Status), m.Result, strings.Join(m.ManagedPlayers, ", ")}
}

func (matchCodec) Decode(r storage.Row) (Match, error) {
	m := Match{
		ID:             r.Int("id"),
		HomeTeam:       r.String("homeTeam"),
		AwayTeam:       r.String("awayTeam"),
		Date:           r.String("date"),
		Venue:          r.String("venue"),
		Status:         MatchStatus(r.String("status")),
		Result:         r.String("result"),
		ManagedPlayers: []string{},
	}
	if raw := r.String("managedPlayers"); raw != "" {
		m.ManagedPlayers = cleanNames(strings.Split(raw, ","))
	}
	if !m.Status.valid() {
		return Match{}, fmt.Errorf("unknown match status %q", m.Status)
	}
	return m, nil
}

func (matchCodec) ID(m Match) int { return m.ID }

func (matchCodec) WithID(m Match, id int) Match {
	m.ID = id
	return m
}
