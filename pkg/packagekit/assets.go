package packagekit

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msibuilder/pkg/contexts/ctxlog"
	"github.com/mat/besticon/ico"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/image/bmp"
)

// Sizes the WixUI dialogs draw their bitmaps at.
const (
	bannerWidth  = 493
	bannerHeight = 58
	dialogWidth  = 493
	dialogHeight = 312
)

var rtfMagic = []byte(`{\rtf`)

type assetStager interface {
	Stage(src, name string) (string, error)
	StageReader(name string, r io.Reader) (string, error)
}

// stageAssets checks the installer assets and copies them where the
// wix tools can see them, updating td to point at the copies. Each
// asset is staged under a fixed name for its role, so sources sharing
// a base name don't overwrite each other. Bitmaps that aren't already
// BMPs of the right size are converted.
func stageAssets(ctx context.Context, stager assetStager, td *wixTemplateData) error {
	ctx, span := trace.StartSpan(ctx, "packagekit.stageAssets")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if td.LicenceFile != "" {
		if err := checkLicence(td.LicenceFile); err != nil {
			return err
		}
		staged, err := stager.Stage(td.LicenceFile, "licence.rtf")
		if err != nil {
			return errors.Wrap(err, "staging licence")
		}
		td.LicenceFile = staged
	}

	if td.ProductIcon != "" {
		if err := checkIcon(td.ProductIcon); err != nil {
			return err
		}
		staged, err := stager.Stage(td.ProductIcon, "product.ico")
		if err != nil {
			return errors.Wrap(err, "staging product icon")
		}
		td.ProductIcon = staged
	}

	bitmaps := []struct {
		path          *string
		name          string
		width, height int
	}{
		{&td.BannerImage, "banner.bmp", bannerWidth, bannerHeight},
		{&td.BackgroundImage, "dialog.bmp", dialogWidth, dialogHeight},
	}

	for _, b := range bitmaps {
		if *b.path == "" {
			continue
		}

		data, converted, err := conformBitmap(*b.path, b.width, b.height)
		if err != nil {
			return err
		}
		if converted {
			level.Info(logger).Log("msg", "converted bitmap", "path", *b.path, "width", b.width, "height", b.height)
		}

		staged, err := stager.StageReader(b.name, bytes.NewReader(data))
		if err != nil {
			return errors.Wrapf(err, "staging %s", *b.path)
		}
		*b.path = staged
	}

	return nil
}

func checkLicence(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening licence")
	}
	defer fh.Close()

	head := make([]byte, len(rtfMagic))
	if _, err := io.ReadFull(fh, head); err != nil || !bytes.Equal(head, rtfMagic) {
		return errors.Errorf("licence %s is not an rtf file", path)
	}

	return nil
}

// checkIcon makes sure path is an ico. Add/Remove Programs won't show
// anything else.
func checkIcon(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening product icon")
	}
	defer fh.Close()

	if _, err := ico.DecodeConfig(fh); err != nil {
		return errors.Wrapf(err, "product icon %s is not an ico file", path)
	}

	return nil
}

// conformBitmap returns the image at path as a width by height
// BMP. A BMP that already fits is returned as is, and converted is
// false.
func conformBitmap(path string, width, height int) (data []byte, converted bool, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s", path)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, errors.Wrapf(err, "decoding image %s", path)
	}

	bounds := img.Bounds()
	if format == "bmp" && bounds.Dx() == width && bounds.Dy() == height {
		return raw, false, nil
	}

	resized := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, resized); err != nil {
		return nil, false, errors.Wrapf(err, "encoding %s as bmp", path)
	}

	return buf.Bytes(), true, nil
}
