// Package roster は選手・クラブ・契約・試合の管理を提供します。
package roster

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// PlayerStatus は選手の状態です。
type PlayerStatus string

const (
	PlayerAvailable     PlayerStatus = "Available"
	PlayerUnderContract PlayerStatus = "Under Contract"
	PlayerInjured       PlayerStatus = "Injured"
	defaultPlayerStatus              = PlayerAvailable
)

func (s PlayerStatus) valid() bool {
	switch s {
	case PlayerAvailable, PlayerUnderContract, PlayerInjured:
		return true
	}
	return false
}

// ContractStatus は契約の状態です。
type ContractStatus string

const (
	ContractActive       ContractStatus = "Active"
	ContractExpiringSoon ContractStatus = "Expiring Soon"
	ContractExpired      ContractStatus = "Expired"
)

func (s ContractStatus) valid() bool {
	switch s {
	case ContractActive, ContractExpiringSoon, ContractExpired:
		return true
	}
	return false
}

// MatchStatus は試合の状態です。
type MatchStatus string

const (
	MatchUpcoming   MatchStatus = "Upcoming"
	MatchInProgress MatchStatus = "In Progress"
	MatchCompleted  MatchStatus = "Completed"
)

func (s MatchStatus) valid() bool {
	switch s {
	case MatchUpcoming, MatchInProgress, MatchCompleted:
		return true
	}
	return false
}

// Player は代理人が担当する選手です。
type Player struct {
	ID               int          `json:"id"`
	Name             string       `json:"name"`
	Position         string       `json:"position"`
	Nationality      string       `json:"nationality"`
	Age              int          `json:"age"`
	CurrentClub      string       `json:"currentClub"`
	MarketValue      string       `json:"marketValue"`
	Image            string       `json:"image"`
	Status           PlayerStatus `json:"status"`
	RepresentedSince string       `json:"representedSince"`
}

// PlayerInput は選手の作成・部分更新の入力です。nil のフィールドは変更しません。
type PlayerInput struct {
	Name             *string       `json:"name"`
	Position         *string       `json:"position"`
	Nationality      *string       `json:"nationality"`
	Age              *int          `json:"age"`
	CurrentClub      *string       `json:"currentClub"`
	MarketValue      *string       `json:"marketValue"`
	Status           *PlayerStatus `json:"status"`
	RepresentedSince *string       `json:"representedSince"`
}

func (in PlayerInput) apply(p Player) Player {
	setString(&p.Name, in.Name)
	setString(&p.Position, in.Position)
	setString(&p.Nationality, in.Nationality)
	setString(&p.CurrentClub, in.CurrentClub)
	setString(&p.MarketValue, in.MarketValue)
	setString(&p.RepresentedSince, in.RepresentedSince)
	if in.Age != nil {
		p.Age = *in.Age
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
	return p
}

func (p Player) validate() error {
	if p.Name == "" || p.Position == "" {
		return invalidInput("name and position are required")
	}
	if p.Age < 0 {
		return invalidInput("age must not be negative")
	}
	if !p.Status.valid() {
		return invalidInput("status must be one of Available, Under Contract, Injured")
	}
	return nil
}

// Club は取引先のクラブです。
type Club struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	League          string `json:"league"`
	Logo            string `json:"logo"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Website         string `json:"website"`
	PlayersManaged  int    `json:"playersManaged"`
	ActiveContracts int    `json:"activeContracts"`
}

// ClubInput はクラブの作成・部分更新の入力です。
type ClubInput struct {
	Name            *string `json:"name"`
	Location        *string `json:"location"`
	League          *string `json:"league"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	Website         *string `json:"website"`
	PlayersManaged  *int    `json:"playersManaged"`
	ActiveContracts *int    `json:"activeContracts"`
}

func (in ClubInput) apply(c Club) Club {
	setString(&c.Name, in.Name)
	setString(&c.Location, in.Location)
	setString(&c.League, in.League)
	setString(&c.Email, in.Email)
	setString(&c.Phone, in.Phone)
	setString(&c.Website, in.Website)
	if in.PlayersManaged != nil {
		c.PlayersManaged = *in.PlayersManaged
	}
	if in.ActiveContracts != nil {
		c.ActiveContracts = *in.ActiveContracts
	}
	return c
}

func (c Club) validate() error {
	if c.Name == "" {
		return invalidInput("name is required")
	}
	if c.PlayersManaged < 0 || c.ActiveContracts < 0 {
		return invalidInput("counters must not be negative")
	}
	return nil
}

// Contract は選手とクラブの契約です。
type Contract struct {
	ID            int            `json:"id"`
	PlayerID      int            `json:"playerId"`
	PlayerName    string         `json:"playerName"`
	ClubID        int            `json:"clubId"`
	ClubName      string         `json:"clubName"`
	StartDate     string         `json:"startDate"`
	EndDate       string         `json:"endDate"`
	Fee           string         `json:"fee"`
	Status        ContractStatus `json:"status"`
	Document      string         `json:"document,omitempty"`
	DocumentPages int            `json:"documentPages,omitempty"`
}

// ContractInput は契約の作成・部分更新の入力です。
type ContractInput struct {
	PlayerID   *int            `json:"playerId"`
	PlayerName *string         `json:"playerName"`
	ClubID     *int            `json:"clubId"`
	ClubName   *string         `json:"clubName"`
	StartDate  *string         `json:"startDate"`
	EndDate    *string         `json:"endDate"`
	Fee        *string         `json:"fee"`
	Status     *ContractStatus `json:"status"`
}

func (in ContractInput) apply(c Contract) Contract {
	if in.PlayerID != nil {
		c.PlayerID = *in.PlayerID
	}
	if in.ClubID != nil {
		c.ClubID = *in.ClubID
	}
	setString(&c.PlayerName, in.PlayerName)
	setString(&c.ClubName, in.ClubName)
	setString(&c.StartDate, in.StartDate)
	setString(&c.EndDate, in.EndDate)
	setString(&c.Fee, in.Fee)
	if in.Status != nil {
		c.Status = *in.Status
	}
	return c
}

func (c Contract) validate() error {
	if c.PlayerID <= 0 || c.ClubID <= 0 {
		return invalidInput("playerId and clubId are required")
	}
	start, err := time.Parse(dateLayout, c.StartDate)
	if err != nil {
		return invalidInput("startDate must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, c.EndDate)
	if err != nil {
		return invalidInput("endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return invalidInput("endDate must not precede startDate")
	}
	if !c.Status.valid() {
		return invalidInput("status must be one of Active, Expiring Soon, Expired")
	}
	return nil
}

// Match は担当選手が出場する試合です。
type Match struct {
	ID             int         `json:"id"`
	HomeTeam       string      `json:"homeTeam"`
	AwayTeam       string      `json:"awayTeam"`
	Date           string      `json:"date"`
	Venue          string      `json:"venue"`
	Status         MatchStatus `json:"status"`
	Result         string      `json:"result,omitempty"`
	ManagedPlayers []string    `json:"managedPlayers"`
}

// MatchInput は試合の作成・部分更新の入力です。
type MatchInput struct {
	HomeTeam       *string      `json:"homeTeam"`
	AwayTeam       *string      `json:"awayTeam"`
	Date           *string      `json:"date"`
	Venue          *string      `json:"venue"`
	Status         *MatchStatus `json:"status"`
	Result         *string      `json:"result"`
	ManagedPlayers []string     `json:"managedPlayers"`
}

func (in MatchInput) apply(m Match) Match {
	setString(&m.HomeTeam, in.HomeTeam)
	setString(&m.AwayTeam, in.AwayTeam)
	setString(&m.Date, in.Date)
	setString(&m.Venue, in.Venue)
	setString(&m.Result, in.Result)
	if in.Status != nil {
		m.Status = *in.Status
	}
	if in.ManagedPlayers != nil {
		m.ManagedPlayers = cleanNames(in.ManagedPlayers)
	}
	return m
}

func (m Match) validate() error {
	if m.HomeTeam == "" || m.AwayTeam == "" {
		return invalidInput("homeTeam and awayTeam are required")
	}
	if _, err := time.Parse(dateLayout, m.Date); err != nil {
		return invalidInput("date must be YYYY-MM-DD")
	}
	if !m.Status.valid() {
		return invalidInput("status must be one of Upcoming, In Progress, Completed")
	}
	for _, name := range m.ManagedPlayers {
		if strings.Contains(name, ",") {
			return invalidInput("managed player names must not contain commas")
		}
	}
	return nil
}

// upcoming は未終了の試合かどうかを返します。
func (m Match) upcoming() bool {
	return m.Status == MatchUpcoming || m.Status == MatchInProgress
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
