package roster

import (
	"context"
	"errors"
	"mime/multipart"

	"github.com/yourusername/agent-roster/internal/pdf"
	"github.com/yourusername/agent-roster/internal/storage"
)

const (
	playerImageKind  = "players"
	clubLogoKind     = "clubs"
	contractFileKind = "contracts"
)

// ImageTypes はアップロードを許可する画像の MIME タイプです。
var ImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

const documentType = "application/pdf"

// ErrUploadsDisabled はファイル保存先が設定されていないことを表します。
var ErrUploadsDisabled = errors.New("uploads are not configured")

// SetPlayerImage は選手画像を保存し、以前の画像を削除します。
func (s *Service) SetPlayerImage(ctx context.Context, id int, fh *multipart.FileHeader) (Player, error) {
	if _, err := s.GetPlayer(ctx, id); err != nil {
		return Player{}, err
	}
	stored, err := s.save(ctx, playerImageKind, fh, ImageTypes...)
	if err != nil {
		return Player{}, err
	}

	var previous string
	p, err := s.players.Update(ctx, id, func(p Player) (Player, error) {
		previous, p.Image = p.Image, stored.URL
		return p, nil
	})
	if err != nil {
		s.removeFile(ctx, stored.URL)
		return Player{}, notFound(err, "player", id)
	}
	s.removeFile(ctx, previous)
	return p, nil
}

// SetClubLogo はクラブのロゴを保存し、以前のロゴを削除します。
func (s *Service) SetClubLogo(ctx context.Context, id int, fh *multipart.FileHeader) (Club, error) {
	if _, err := s.GetClub(ctx, id); err != nil {
		return Club{}, err
	}
	stored, err := s.save(ctx, clubLogoKind, fh, ImageTypes...)
	if err != nil {
		return Club{}, err
	}

	var previous string
	c, err := s.clubs.Update(ctx, id, func(c Club) (Club, error) {
		previous, c.Logo = c.Logo, stored.URL
		return c, nil
	})
	if err != nil {
		s.removeFile(ctx, stored.URL)
		return Club{}, notFound(err, "club", id)
	}
	s.removeFile(ctx, previous)
	return c, nil
}

// SetContractDocument は契約書 PDF を検証して保存し、ページ数を記録します。
func (s *Service) SetContractDocument(ctx context.Context, id int, fh *multipart.FileHeader) (Contract, error) {
	if _, err := s.GetContract(ctx, id); err != nil {
		return Contract{}, err
	}
	stored, err := s.save(ctx, contractFileKind, fh, documentType)
	if err != nil {
		return Contract{}, err
	}

	info, err := pdf.Inspect(ctx, stored.Path, s.maxPages)
	if err != nil {
		s.removeFile(ctx, stored.URL)
		return Contract{}, err
	}

	var previous string
	c, err := s.contracts.Update(ctx, id, func(c Contract) (Contract, error) {
		previous = c.Document
		c.Document, c.DocumentPages = stored.URL, info.Pages
		return c, nil
	})
	if err != nil {
		s.removeFile(ctx, stored.URL)
		return Contract{}, notFound(err, "contract", id)
	}
	s.removeFile(ctx, previous)
	return c, nil
}

func (s *Service) save(ctx context.Context, kind string, fh *multipart.FileHeader, allowed ...string) (*storage.StoredFile, error) {
	if s.files == nil {
		return nil, ErrUploadsDisabled
	}
	if fh == nil {
		return nil, invalidInput("file is required")
	}
	return s.files.SaveMultipart(ctx, kind, fh, allowed...)
}
