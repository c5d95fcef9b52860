package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/yourusername/agent-roster/internal/storage"
)

// Files はアップロードされたファイルの保存先です。
type Files interface {
	SaveMultipart(ctx context.Context, kind string, fh *multipart.FileHeader, allowed ...string) (*storage.StoredFile, error)
	Delete(ctx context.Context, url string) error
}

// Options は Service の任意設定です。
type Options struct {
	Files Files
	// MaxDocumentPages は契約書 PDF のページ数上限です。0 以下は無制限です。
	MaxDocumentPages int
	Logger           *slog.Logger
}

// Service は選手・クラブ・契約・試合のワークブックを束ねます。
type Service struct {
	players   *storage.Table[Player]
	clubs     *storage.Table[Club]
	contracts *storage.Table[Contract]
	matches   *storage.Table[Match]

	files    Files
	maxPages int
	logger   *slog.Logger
}

// NewService は dataDir 配下のワークブックを開きます。存在しないファイルはヘッダー付きで作成します。
func NewService(dataDir string, opts Options) (*Service, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data dir is required")
	}
	players, err := storage.NewTable[Player](filepath.Join(dataDir, PlayersFilename), playersSchema, playerCodec{})
	if err != nil {
		return nil, fmt.Errorf("open players: %w", err)
	}
	clubs, err := storage.NewTable[Club](filepath.Join(dataDir, ClubsFilename), clubsSchema, clubCodec{})
	if err != nil {
		return nil, fmt.Errorf("open clubs: %w", err)
	}
	contracts, err := storage.NewTable[Contract](filepath.Join(dataDir, ContractsFilename), contractsSchema, contractCodec{})
	if err != nil {
		return nil, fmt.Errorf("open contracts: %w", err)
	}
	matches, err := storage.NewTable[Match](filepath.Join(dataDir, MatchesFilename), matchesSchema, matchCodec{})
	if err != nil {
		return nil, fmt.Errorf("open matches: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		players:   players,
		clubs:     clubs,
		contracts: contracts,
		matches:   matches,
		files:     opts.Files,
		maxPages:  opts.MaxDocumentPages,
		logger:    logger,
	}, nil
}

// ListPlayers は全選手を返します。
func (s *Service) ListPlayers(ctx context.Context) ([]Player, error) {
	return s.players.List(ctx)
}

// GetPlayer は id の選手を返します。
func (s *Service) GetPlayer(ctx context.Context, id int) (Player, error) {
	p, err := s.players.Get(ctx, id)
	return p, notFound(err, "player", id)
}

// CreatePlayer は選手を追加します。status を省略すると Available になります。
func (s *Service) CreatePlayer(ctx context.Context, in PlayerInput) (Player, error) {
	p := in.apply(Player{Status: defaultPlayerStatus})
	if err := p.validate(); err != nil {
		return Player{}, err
	}
	return s.players.Insert(ctx, p)
}

// UpdatePlayer は指定されたフィールドだけを更新します。
func (s *Service) UpdatePlayer(ctx context.Context, id int, in PlayerInput) (Player, error) {
	p, err := s.players.Update(ctx, id, func(p Player) (Player, error) {
		p = in.apply(p)
		return p, p.validate()
	})
	return p, notFound(err, "player", id)
}

// DeletePlayer は選手と画像ファイルを削除します。
func (s *Service) DeletePlayer(ctx context.Context, id int) error {
	p, err := s.GetPlayer(ctx, id)
	if err != nil {
		return err
	}
	if err := s.players.Delete(ctx, id); err != nil {
		return notFound(err, "player", id)
	}
	s.removeFile(ctx, p.Image)
	return nil
}

// ListClubs は全クラブを返します。
func (s *Service) ListClubs(ctx context.Context) ([]Club, error) {
	return s.clubs.List(ctx)
}

// GetClub は id のクラブを返します。
func (s *Service) GetClub(ctx context.Context, id int) (Club, error) {
	c, err := s.clubs.Get(ctx, id)
	return c, notFound(err, "club", id)
}

// CreateClub はクラブを追加します。
func (s *Service) CreateClub(ctx context.Context, in ClubInput) (Club, error) {
	c := in.apply(Club{})
	if err := c.validate(); err != nil {
		return Club{}, err
	}
	return s.clubs.Insert(ctx, c)
}

// UpdateClub は指定されたフィールドだけを更新します。
func (s *Service) UpdateClub(ctx context.Context, id int, in ClubInput) (Club, error) {
	c, err := s.clubs.Update(ctx, id, func(c Club) (Club, error) {
		c = in.apply(c)
		return c, c.validate()
	})
	return c, notFound(err, "club", id)
}

// DeleteClub はクラブとロゴを削除します。
func (s *Service) DeleteClub(ctx context.Context, id int) error {
	c, err := s.GetClub(ctx, id)
	if err != nil {
		return err
	}
	if err := s.clubs.Delete(ctx, id); err != nil {
		return notFound(err, "club", id)
	}
	s.removeFile(ctx, c.Logo)
	return nil
}

// ListContracts は全契約を返します。
func (s *Service) ListContracts(ctx context.Context) ([]Contract, error) {
	return s.contracts.List(ctx)
}

// GetContract は id の契約を返します。
func (s *Service) GetContract(ctx context.Context, id int) (Contract, error) {
	c, err := s.contracts.Get(ctx, id)
	return c, notFound(err, "contract", id)
}

// ActiveContractForPlayer は選手の Active な契約を返します。
func (s *Service) ActiveContractForPlayer(ctx context.Context, playerID int) (Contract, error) {
	c, err := s.contracts.Find(ctx, func(c Contract) bool {
		return c.PlayerID == playerID && c.Status == ContractActive
	})
	return c, notFound(err, "active contract for player", playerID)
}

// ContractsForClub はクラブの契約を返します。
func (s *Service) ContractsForClub(ctx context.Context, clubID int) ([]Contract, error) {
	return s.contracts.Filter(ctx, func(c Contract) bool { return c.ClubID == clubID })
}

// CreateContract は契約を追加します。選手名・クラブ名が空の場合は各テーブルから補います。
func (s *Service) CreateContract(ctx context.Context, in ContractInput) (Contract, error) {
	c := in.apply(Contract{Status: ContractActive})
	if err := c.validate(); err != nil {
		return Contract{}, err
	}
	c, err := s.fillNames(ctx, c)
	if err != nil {
		return Contract{}, err
	}
	return s.contracts.Insert(ctx, c)
}

// UpdateContract は指定されたフィールドだけを更新します。選手・クラブを付け替えた場合は名前も引き直します。
func (s *Service) UpdateContract(ctx context.Context, id int, in ContractInput) (Contract, error) {
	current, err := s.GetContract(ctx, id)
	if err != nil {
		return Contract{}, err
	}
	merged := in.apply(current)
	if err := merged.validate(); err != nil {
		return Contract{}, err
	}
	if merged.PlayerID != current.PlayerID && in.PlayerName == nil {
		merged.PlayerName = ""
	}
	if merged.ClubID != current.ClubID && in.ClubName == nil {
		merged.ClubName = ""
	}
	// 名前の補完は契約テーブルのロック外で行う
	names, err := s.fillNames(ctx, merged)
	if err != nil {
		return Contract{}, err
	}

	c, err := s.contracts.Update(ctx, id, func(c Contract) (Contract, error) {
		c = in.apply(c)
		c.PlayerName, c.ClubName = names.PlayerName, names.ClubName
		return c, c.validate()
	})
	return c, notFound(err, "contract", id)
}

// DeleteContract は契約と契約書ファイルを削除します。
func (s *Service) DeleteContract(ctx context.Context, id int) error {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return err
	}
	if err := s.contracts.Delete(ctx, id); err != nil {
		return notFound(err, "contract", id)
	}
	s.removeFile(ctx, c.Document)
	return nil
}

func (s *Service) fillNames(ctx context.Context, c Contract) (Contract, error) {
	if c.PlayerName == "" {
		p, err := s.GetPlayer(ctx, c.PlayerID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return c, invalidInput(fmt.Sprintf("player %d does not exist", c.PlayerID))
			}
			return c, err
		}
		c.PlayerName = p.Name
	}
	if c.ClubName == "" {
		club, err := s.GetClub(ctx, c.ClubID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return c, invalidInput(fmt.Sprintf("club %d does not exist", c.ClubID))
			}
			return c, err
		}
		c.ClubName = club.Name
	}
	return c, nil
}

// MatchFilter は試合一覧の絞り込みです。
type MatchFilter string

const (
	MatchFilterAll       MatchFilter = ""
	MatchFilterUpcoming  MatchFilter = "upcoming"
	MatchFilterCompleted MatchFilter = "completed"
)

// ParseMatchFilter はクエリ値を MatchFilter に変換します。
func ParseMatchFilter(raw string) (MatchFilter, error) {
	switch f := MatchFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case MatchFilterAll, MatchFilterUpcoming, MatchFilterCompleted:
		return f, nil
	}
	return "", invalidInput("status must be upcoming or completed")
}

// ListMatches は filter に一致する試合を返します。upcoming は In Progress を含みます。
func (s *Service) ListMatches(ctx context.Context, filter MatchFilter) ([]Match, error) {
	switch filter {
	case MatchFilterUpcoming:
		return s.matches.Filter(ctx, Match.upcoming)
	case MatchFilterCompleted:
		return s.matches.Filter(ctx, func(m Match) bool { return m.Status == MatchCompleted })
	default:
		return s.matches.List(ctx)
	}
}

// GetMatch は id の試合を返します。
func (s *Service) GetMatch(ctx context.Context, id int) (Match, error) {
	m, err := s.matches.Get(ctx, id)
	return m, notFound(err, "match", id)
}

// CreateMatch は試合を追加します。status を省略すると Upcoming になります。
func (s *Service) CreateMatch(ctx context.Context, in MatchInput) (Match, error) {
	m := in.apply(Match{Status: MatchUpcoming, ManagedPlayers: []string{}})
	if err := m.validate(); err != nil {
		return Match{}, err
	}
	return s.matches.Insert(ctx, m)
}

// UpdateMatch は指定されたフィールドだけを更新します。
func (s *Service) UpdateMatch(ctx context.Context, id int, in MatchInput) (Match, error) {
	m, err := s.matches.Update(ctx, id, func(m Match) (Match, error) {
		m = in.apply(m)
		return m, m.validate()
	})
	return m, notFound(err, "match", id)
}

// DeleteMatch は試合を削除します。
func (s *Service) DeleteMatch(ctx context.Context, id int) error {
	return notFound(s.matches.Delete(ctx, id), "match", id)
}

// DashboardStats はダッシュボードの集計です。
type DashboardStats struct {
	TotalPlayers      int        `json:"totalPlayers"`
	AvailablePlayers  int        `json:"availablePlayers"`
	InjuredPlayers    int        `json:"injuredPlayers"`
	ActiveContracts   int        `json:"activeContracts"`
	ExpiringContracts int        `json:"expiringContracts"`
	UpcomingMatches   int        `json:"upcomingMatches"`
	CompletedMatches  int        `json:"completedMatches"`
	PartnerClubs      int        `json:"partnerClubs"`
	RecentContracts   []Contract `json:"recentContracts"`
	NextMatches       []Match    `json:"nextMatches"`
	TopPlayers        []Player   `json:"topPlayers"`
}

const (
	dashboardRecentContracts = 3
	dashboardNextMatches     = 3
	dashboardTopPlayers      = 4
)

// Dashboard は全テーブルを読み取り集計を返します。
func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	players, err := s.players.List(ctx)
	if err != nil {
		return nil, err
	}
	clubs, err := s.clubs.List(ctx)
	if err != nil {
		return nil, err
	}
	contracts, err := s.contracts.List(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := s.matches.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalPlayers:    len(players),
		PartnerClubs:    len(clubs),
		RecentContracts: head(contracts, dashboardRecentContracts),
		TopPlayers:      head(players, dashboardTopPlayers),
		NextMatches:     []Match{},
	}
	for _, p := range players {
		switch p.Status {
		case PlayerAvailable:
			stats.AvailablePlayers++
		case PlayerInjured:
			stats.InjuredPlayers++
		}
	}
	for _, c := range contracts {
		switch c.Status {
		case ContractActive:
			stats.ActiveContracts++
		case ContractExpiringSoon:
			stats.ExpiringContracts++
		}
	}
	for _, m := range matches {
		if m.Status == MatchCompleted {
			stats.CompletedMatches++
			continue
		}
		stats.UpcomingMatches++
		if m.Status == MatchUpcoming && len(stats.NextMatches) < dashboardNextMatches {
			stats.NextMatches = append(stats.NextMatches, m)
		}
	}
	return stats, nil
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[:n]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func (s *Service) removeFile(ctx context.Context, url string) {
	if url == "" || s.files == nil {
		return
	}
	if err := s.files.Delete(ctx, url); err != nil {
		s.logger.WarnContext(ctx, "failed to remove upload", "url", url, "error", err)
	}
}

func notFound(err error, what string, id int) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}
