// Package dnn loads image classification networks through OpenCV's DNN module.
package dnn

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"ecobin/internal/dto"
	"ecobin/internal/service/classify"
)

const defaultImageSize = 224

// Metadata follows the metadata.json exported next to image models.
type Metadata struct {
	Labels    []string `json:"labels"`
	ImageSize int      `json:"imageSize"`
}

// Network is a loaded classifier. It is not safe for concurrent use;
// classify.Local serializes calls.
type Network struct {
	net    gocv.Net
	labels []string
	size   int
	tmpDir string
}

// Load satisfies classify.ModelLoader. Both arguments may be local paths or
// http(s) URLs; URLs are downloaded to a temporary directory first.
func Load(ctx context.Context, modelURL, metadataURL string) (classify.Model, error) {
	tmpDir, err := os.MkdirTemp("", "ecobin-model")
	if err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}

	modelPath, err := fetch(ctx, modelURL, tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	metadataPath, err := fetch(ctx, metadataURL, tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	meta, err := readMetadata(metadataPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to load network from %s", modelURL)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to set target: %w", err)
	}

	size := meta.ImageSize
	if size <= 0 {
		size = defaultImageSize
	}

	return &Network{net: net, labels: meta.Labels, size: size, tmpDir: tmpDir}, nil
}

func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if len(meta.Labels) == 0 {
		return Metadata{}, fmt.Errorf("metadata has no labels")
	}
	return meta, nil
}

func fetch(ctx context.Context, location, dir string) (string, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		if _, err := os.Stat(location); err != nil {
			return "", fmt.Errorf("model file not found: %s", location)
		}
		return location, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", location, resp.StatusCode)
	}

	name := filepath.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", location, err)
	}
	return path, nil
}

// Predict returns one candidate per label, in label order.
func (n *Network) Predict(sample dto.Sample) ([]dto.Candidate, error) {
	mat, err := gocv.IMDecode(sample.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	// image models exported for the browser expect inputs scaled to [-1, 1]
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(n.size, n.size), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	output := n.net.Forward("")
	defer output.Close()

	total := output.Total()
	if total < len(n.labels) {
		return nil, fmt.Errorf("network produced %d outputs for %d labels", total, len(n.labels))
	}

	scores := output.Reshape(1, 1)
	defer scores.Close()

	candidates := make([]dto.Candidate, len(n.labels))
	for i, label := range n.labels {
		candidates[i] = dto.Candidate{
			ClassName:   label,
			Probability: float64(scores.GetFloatAt(0, i)),
		}
	}
	return candidates, nil
}

func (n *Network) Close() error {
	err := n.net.Close()
	os.RemoveAll(n.tmpDir)
	return err
}
