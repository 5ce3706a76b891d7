package underwriting

import (
	"context"
	"math"
	"strconv"
	"strings"

	"underwriter/pkg/application"
	"underwriter/pkg/tools"
)

// Default vehicle used when no images are supplied or none can be read.
const (
	DefaultMake      = "TOYOTA"
	DefaultModel     = "CAMRY"
	DefaultYear      = 2020
	DefaultMileage   = 50000
	DefaultCondition = "Good"

	defaultMakeValue   = 20000.0
	minimumValue       = 1000.0
	depreciationByYear = 1500.0
	depreciationByMile = 0.1
	confidenceHinted   = 0.85
	confidenceDefault  = 0.6
)

//nolint:gochecknoglobals // valuation tables
var (
	makeBaseValues = map[string]float64{
		"TOYOTA":    25000,
		"HONDA":     24000,
		"FORD":      22000,
		"CHEVROLET": 21000,
		"NISSAN":    20000,
		"BMW":       35000,
		"MERCEDES":  38000,
		"AUDI":      32000,
		"LEXUS":     30000,
	}

	conditionMultipliers = map[string]float64{
		"Excellent": 1.2,
		"Very Good": 1.1,
		"Good":      1.0,
		"Fair":      0.9,
		"Poor":      0.7,
	}

	conditionWords = map[string]string{
		"excellent": "Excellent",
		"mint":      "Excellent",
		"good":      "Good",
		"fair":      "Fair",
		"worn":      "Fair",
		"poor":      "Poor",
	}

	damageWords = map[string]string{
		"dent":      "Dent",
		"dented":    "Dent",
		"scratch":   "Scratch",
		"scratched": "Scratch",
		"crack":     "Cracked glass",
		"cracked":   "Cracked glass",
		"damage":    "Body damage",
		"damaged":   "Body damage",
		"rust":      "Rust",
	}

	refStopWords = map[string]bool{
		"jpg": true, "jpeg": true, "png": true, "heic": true, "img": true, "image": true,
		"photo": true, "front": true, "rear": true, "back": true, "side": true,
		"left": true, "right": true, "interior": true, "car": true, "vehicle": true,
		"s3": true, "gs": true, "bucket": true, "very": true,
	}
)

// VehicleAnalyzer derives vehicle details from image references. Image
// content is not inspected; file names carry make, year, mileage and
// condition hints such as "2018_honda_civic_62k_dented.jpg".
type VehicleAnalyzer struct{}

// NewVehicleAnalyzer creates a new vehicle analysis step.
func NewVehicleAnalyzer() *VehicleAnalyzer {
	return &VehicleAnalyzer{}
}

// Name returns the step identifier.
func (v *VehicleAnalyzer) Name() string {
	return tools.StepAnalyzeVehicle
}

// Execute returns the vehicle data with an estimated value.
func (v *VehicleAnalyzer) Execute(ctx context.Context, stepCtx, params map[string]any) (tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return tools.Result{}, err
	}
	refs := listInput(params, application.KeyCarImageRefs, seedOf(stepCtx).CarImageRefs)
	data := AnalyzeVehicle(refs)

	return tools.OK(map[string]any{
		"make":            data.Make,
		"model":           data.Model,
		"year":            data.Year,
		"mileage":         data.Mileage,
		"condition":       data.Condition,
		"estimated_value": data.EstimatedValue,
		"damage":          data.Damage,
		"images_analyzed": data.ImagesAnalyzed,
		"confidence":      data.Confidence,
	}, map[string][]string{tools.TagObjectTables: {TableCarImages}}), nil
}

// AnalyzeVehicle reads hints from refs and values the vehicle.
func AnalyzeVehicle(refs []string) application.VehicleData {
	data := application.VehicleData{
		Make:           DefaultMake,
		Model:          DefaultModel,
		Year:           DefaultYear,
		Mileage:        DefaultMileage,
		Condition:      DefaultCondition,
		Damage:         []string{},
		ImagesAnalyzed: len(refs),
		Confidence:     confidenceDefault,
	}

	hinted := false
	conditionSet := false
	seenDamage := map[string]bool{}
	for _, ref := range refs {
		words := tokenize(ref)
		for i, w := range words {
			upper := strings.ToUpper(w)
			switch {
			case isMake(upper):
				data.Make = upper
				data.Model = "UNKNOWN"
				if i+1 < len(words) && isModelWord(words[i+1]) {
					data.Model = strings.ToUpper(words[i+1])
				}
				hinted = true
			case isYear(w):
				data.Year, _ = strconv.Atoi(w)
				hinted = true
			case mileageOf(w) > 0:
				data.Mileage = mileageOf(w)
				hinted = true
			case conditionWords[w] != "":
				data.Condition = conditionWords[w]
				if w == "good" && i > 0 && words[i-1] == "very" {
					data.Condition = "Very Good"
				}
				conditionSet = true
				hinted = true
			case damageWords[w] != "":
				if d := damageWords[w]; !seenDamage[d] {
					seenDamage[d] = true
					data.Damage = append(data.Damage, d)
				}
				hinted = true
			}
		}
	}

	if len(data.Damage) > 0 && !conditionSet {
		data.Condition = "Fair"
	}
	if hinted {
		data.Confidence = confidenceHinted
	}
	data.EstimatedValue = EstimateValue(data.Make, data.Year, data.Mileage, data.Condition)
	return data
}

// EstimateValue applies the make base value, age and mileage depreciation
// and the condition multiplier. The result is never below 1000.
func EstimateValue(vehicleMake string, year, mileage int, condition string) float64 {
	base, ok := makeBaseValues[strings.ToUpper(vehicleMake)]
	if !ok {
		base = defaultMakeValue
	}
	value := base - depreciationByYear*float64(ModelReferenceYear-year)
	if mileage > DefaultMileage {
		value -= depreciationByMile * float64(mileage-DefaultMileage)
	}
	multiplier, ok := conditionMultipliers[condition]
	if !ok {
		multiplier = 1.0
	}
	return round2(math.Max(minimumValue, value*multiplier))
}

func isMake(word string) bool {
	_, ok := makeBaseValues[word]
	return ok
}

func isYear(word string) bool {
	if len(word) != 4 {
		return false
	}
	y, err := strconv.Atoi(word)
	return err == nil && y >= 1980 && y <= ModelReferenceYear+1
}

func isModelWord(word string) bool {
	if refStopWords[word] || conditionWords[word] != "" || damageWords[word] != "" || isYear(word) || mileageOf(word) > 0 {
		return false
	}
	return word[0] >= 'a' && word[0] <= 'z'
}

// mileageOf parses tokens like "62k", "62000mi" or "62000miles"; zero means no match.
func mileageOf(word string) int {
	var digits string
	multiplier := 1
	switch {
	case strings.HasSuffix(word, "miles"):
		digits = strings.TrimSuffix(word, "miles")
	case strings.HasSuffix(word, "mi"):
		digits = strings.TrimSuffix(word, "mi")
	case strings.HasSuffix(word, "k"):
		digits = strings.TrimSuffix(word, "k")
		multiplier = 1000
	default:
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0
	}
	return n * multiplier
}
