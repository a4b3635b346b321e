package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <name> <student_id> <photo>...",
	Short: "Enroll a student from a set of photos",
	Long: `Detects exactly one face per photo, stores the face embeddings and retrains
the classifier once at least two students are enrolled. A directory argument
is expanded to the images it contains.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRegister(cmd.Context(), args[0], args[1], args[2:])
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// expandPhotoArgs replaces directories with the images inside them.
func expandPhotoArgs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	return paths, nil
}

// validateRegisterArgs ensures the enrollment has a student key and enough photos.
func validateRegisterArgs(name, id string, photos []string, minPhotos int) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("name and student id must not be empty")
	}
	if strings.Contains(id, types.LabelSeparator) {
		return fmt.Errorf("student id %q must not contain %q", id, types.LabelSeparator)
	}
	if len(photos) < minPhotos {
		return fmt.Errorf("at least %d photos are required, got %d", minPhotos, len(photos))
	}
	return nil
}

func runRegister(ctx context.Context, name, id string, args []string) error {
	paths, err := expandPhotoArgs(args)
	if err != nil {
		utils.ShowError("Unable to access photo", err, nil)
		return err
	}
	if err := validateRegisterArgs(name, id, paths, Cfg.Pipeline.MinPhotos); err != nil {
		utils.ShowError("Invalid enrollment", err, nil)
		return err
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("📷 Loading photos"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	photos := make([]image.Image, len(paths))
	for i, p := range paths {
		img, err := utils.LoadImage(p)
		if err != nil {
			// An unreadable photo counts as a photo without a face.
			fmt.Fprintf(os.Stderr, "\n⚠️  Skipping %s: %v\n", p, err)
		}
		photos[i] = img
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	svc, engine, err := newService(true)
	if err != nil {
		utils.ShowError("Failed to start AI engine", err, nil)
		return err
	}
	defer engine.Close()

	fmt.Fprintf(os.Stderr, "🧠 Enrolling %s (%s)...\n", name, id)
	res, err := svc.Register(ctx, pipeline.RegisterRequest{
		Student: types.Student{Name: name, ID: id},
		Photos:  photos,
	})
	if err != nil {
		checkFatal(err, engine)
		if pipeline.KindOf(err) == pipeline.KindInternal {
			utils.ShowError("Enrollment failed", err, engine.Cmd())
		} else {
			fmt.Printf("❌ %s\n", err)
		}
		return err
	}

	fmt.Printf("✅ %s\n", res.Message)
	if res.Trained {
		fmt.Printf("🎓 Classifier retrained on %d students.\n", res.Classes)
	} else {
		fmt.Println("⏳ Not enough students to train yet. Waiting for at least 2 students.")
	}
	return nil
}
