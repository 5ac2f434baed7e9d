package prompts

const (
	AspectSquare    = "1:1"
	AspectPortrait  = "3:4"
	AspectLandscape = "4:3"
	AspectTall      = "9:16"
	AspectWide      = "16:9"
)

// SnapAspectRatio は幅と高さの比を固定の5種類のいずれかに丸めます。
// 判定は上から順に評価し、モデルに依存しない純粋関数なのだ。
func SnapAspectRatio(width, height float64) string {
	if width <= 0 || height <= 0 {
		return AspectSquare
	}
	r := width / height
	switch {
	case r >= 1.7:
		return AspectWide
	case r >= 1.3:
		return AspectLandscape
	case r >= 0.9 && r <= 1.1:
		return AspectSquare
	case r <= 0.6:
		return AspectTall
	default:
		return AspectPortrait
	}
}

// ResolutionTier は長辺のピクセル数から解像度階層を決めます。
func ResolutionTier(width, height float64) string {
	long := max(width, height)
	switch {
	case long <= 1024:
		return "1K"
	case long <= 2048:
		return "2K"
	default:
		return "4K"
	}
}
