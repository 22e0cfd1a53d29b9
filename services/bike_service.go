package services

import (
	"context"
	"fmt"

	"domadoAPI/internal/bike"
	"domadoAPI/internal/errs"
	"domadoAPI/internal/store"

	"github.com/skip2/go-qrcode"
)

type BikeService struct {
	store store.Store
}

func NewBikeService(s store.Store) *BikeService {
	return &BikeService{store: s}
}

func (s *BikeService) GetByQRCode(ctx context.Context, qrCode string) (*bike.BikeView, error) {
	b, err := s.store.GetBikeByQRCode(ctx, qrCode)
	if err != nil {
		return nil, notFound(err, errs.BikeNotFound, "bike")
	}
	return bike.NewBikeView(b), nil
}

// QRLabel renders the printable sticker for a bike as PNG.
func (s *BikeService) QRLabel(ctx context.Context, qrCode string) ([]byte, error) {
	if _, err := s.store.GetBikeByQRCode(ctx, qrCode); err != nil {
		return nil, notFound(err, errs.BikeNotFound, "bike")
	}
	pngBytes, err := qrcode.Encode(qrCode, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate qr code: %w", err)
	}
	return pngBytes, nil
}
