// Command dispute-run processes one personal and one contact image from
// local disk, prints the analysis and optionally places the refund call.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dispute-assistant/config"
	"dispute-assistant/models"
	"dispute-assistant/ocr"
	"dispute-assistant/repository"
	"dispute-assistant/service"
	"dispute-assistant/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	personal := flag.String("personal", "personal_info/personal.png", "personal information image")
	contact := flag.String("contact", "contact_info/contact.png", "contact information image")
	out := flag.String("out", ".", "directory for run artifacts")
	flag.Parse()

	_ = config.LoadDotEnv()
	cfg := config.Load()
	if cfg.LogEnv == "production" {
		cfg.LogEnv = "development"
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Images and artifacts share one local store rooted at the output directory
	store, err := storage.NewLocalStorage(*out)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	sessionID := uuid.New()
	input := service.RunInput{
		SessionID:   sessionID,
		Credentials: cfg.Call.Credentials,
	}
	for _, img := range []struct {
		slot models.Slot
		path string
		dst  *string
	}{
		{models.SlotPersonal, *personal, &input.PersonalPath},
		{models.SlotContact, *contact, &input.ContactPath},
	} {
		stored, err := stageImage(ctx, store, sessionID, img.slot, img.path)
		if err != nil {
			logger.Warn("image not staged", zap.String("slot", string(img.slot)), zap.Error(err))
			continue
		}
		*img.dst = stored
	}

	engine, err := ocr.NewEngine(ctx, cfg.OCR)
	if err != nil {
		return fmt.Errorf("init OCR: %w", err)
	}
	if closer, ok := engine.(io.Closer); ok {
		defer closer.Close()
	}

	pipeline := service.NewPipeline(
		service.WithOCREngine(engine),
		service.WithPipelineStorage(store),
		service.WithRunStore(repository.NewMemoryRunRepository()),
		service.WithCaller(service.NewTwilioCaller(
			service.WithCallAPIBase(cfg.Call.APIBase),
			service.WithCallTimeout(cfg.Call.Timeout),
			service.WithCallLogger(logger),
		)),
		service.WithIdentity(cfg.Identity),
		service.WithRequirePhone(true),
		service.WithConfirmer(promptConfirm(os.Stdin, os.Stdout)),
		service.WithPipelineLogger(logger),
	)

	result, err := pipeline.Run(ctx, input)
	if err != nil {
		if result != nil && result.Error != "" {
			return errors.New(result.Error)
		}
		return err
	}

	printSummary(os.Stdout, result)
	for _, a := range result.Artifacts {
		fmt.Printf("Saved %s\n", store.Path(a))
	}
	return nil
}

// stageImage copies a local image into the session slot
func stageImage(ctx context.Context, store storage.Storage, sessionID uuid.UUID, slot models.Slot, path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	dst := storage.SlotPath(sessionID, slot)
	if err := store.Upload(ctx, dst, f); err != nil {
		return "", err
	}
	return dst, nil
}

func promptConfirm(in io.Reader, out io.Writer) service.Confirmer {
	reader := bufio.NewReader(in)
	return func(_ context.Context, phone string) bool {
		fmt.Fprintf(out, "Detected ETS contact phone: %s\n", phone)
		fmt.Fprint(out, "\nWould you like to make a phone call? (y/n): ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		return strings.ToLower(strings.TrimSpace(line)) == "y"
	}
}

func printSummary(w io.Writer, res *service.RunResult) {
	rule := strings.Repeat("=", 50)
	rec := res.Record

	fmt.Fprintf(w, "\n%s\nInformation Extraction Summary\n%s\n", rule, rule)
	fmt.Fprintln(w, "\nPersonal Information:")
	printField(w, "email", rec.Personal.Email)
	printField(w, "first_name", rec.Personal.FirstName)
	printField(w, "last_name", rec.Personal.LastName)
	printField(w, "ets_id", rec.Personal.ETSID)

	if rec.Contact != nil {
		fmt.Fprintln(w, "\nContact Information:")
		printField(w, "contact_email", rec.Contact.ContactEmail)
		printField(w, "contact_phone", rec.Contact.ContactPhone)
	}

	fmt.Fprintln(w, "\nDispute Analysis:")
	fmt.Fprintf(w, "Primary Category: %s\n", rec.Dispute.DisputeCategory)
	fmt.Fprintf(w, "Confidence: %v%%\n", rec.Dispute.Confidence)
	fmt.Fprintln(w, "\nCategory Match Details:")
	for _, c := range models.ScoredCategories {
		if n := rec.Dispute.CategoryDetails[c]; n > 0 {
			fmt.Fprintf(w, "%s: %d keyword matches\n", c, n)
		}
	}

	if !res.Letter.Unsupported {
		fmt.Fprintf(w, "\n%s\nETS TOEFL Refund Dispute Template\n%s\n", rule, rule)
		fmt.Fprintln(w, res.Letter.Text)
	}
	if rec.CallHistory != nil {
		fmt.Fprintf(w, "\nCall %s at %s\n", rec.CallHistory.Status, rec.CallHistory.Timestamp.Format("2006-01-02 15:04:05"))
	}
}

func printField(w io.Writer, name string, v *string) {
	if v != nil && *v != "" {
		fmt.Fprintf(w, "%s: %s\n", name, *v)
	}
}
