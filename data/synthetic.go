package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// SyntheticOptions controls GenerateLoans.
type SyntheticOptions struct {
	Rows int
	Seed uint64
	// MissingRate is the probability that CreditScore, Income and
	// Education are left blank for a row.
	MissingRate float64
}

var (
	educationLevels = []string{"Bachelor's", "High School", "Master's", "PhD"}
	employmentTypes = []string{"Full-time", "Part-time", "Self-employed", "Unemployed"}
	maritalStatuses = []string{"Divorced", "Married", "Single"}
	loanPurposes    = []string{"Auto", "Business", "Education", "Home", "Other"}
	loanTerms       = []float64{12, 24, 36, 48, 60}
	yesNo           = []string{"No", "Yes"}
)

// GenerateLoans produces a loan dataset with the columns of the real
// Loan_default file (header first). Default probability follows a logistic
// model of interest rate, age, income, loan size, credit score, tenure and
// employment type, so a classifier has a real signal to learn. The output
// is a pure function of opts.
func GenerateLoans(opts SyntheticOptions) ([][]string, error) {
	if opts.Rows < 1 {
		return nil, errors.NewValidationError("rows", "must be positive", opts.Rows)
	}
	if opts.MissingRate < 0 || opts.MissingRate >= 1 {
		return nil, errors.NewValidationError("missing_rate", "must be in [0, 1)", opts.MissingRate)
	}

	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	uniform := func(lo, hi float64) distuv.Uniform { return distuv.Uniform{Min: lo, Max: hi, Src: src} }
	age := uniform(18, 70)
	income := uniform(15000, 150000)
	amount := uniform(5000, 250000)
	credit := uniform(300, 850)
	months := uniform(0, 120)
	lines := uniform(1, 5)
	rate := uniform(2, 25)
	dti := uniform(0.1, 0.9)
	unit := uniform(0, 1)
	noise := distuv.Normal{Mu: 0, Sigma: 0.3, Src: src}
	pick := func(n int) int { return min(int(unit.Rand()*float64(n)), n-1) }

	header := []string{IDColumn}
	header = append(header, NumericColumns...)
	header = append(header, CategoricalColumns...)
	header = append(header, LabelColumn)

	out := make([][]string, 0, opts.Rows+1)
	out = append(out, header)
	for i := 0; i < opts.Rows; i++ {
		a := math.Floor(age.Rand())
		inc := math.Floor(income.Rand())
		amt := math.Floor(amount.Rand())
		cs := math.Floor(credit.Rand())
		me := math.Floor(months.Rand())
		nl := math.Floor(lines.Rand())
		ir := math.Round(rate.Rand()*100) / 100
		term := loanTerms[pick(len(loanTerms))]
		dr := math.Round(dti.Rand()*100) / 100
		edu := educationLevels[pick(len(educationLevels))]
		emp := employmentTypes[pick(len(employmentTypes))]
		mar := maritalStatuses[pick(len(maritalStatuses))]
		mortgage := yesNo[pick(2)]
		dependents := yesNo[pick(2)]
		purpose := loanPurposes[pick(len(loanPurposes))]
		cosigner := yesNo[pick(2)]

		logit := -2.3 +
			1.1*(ir-13.5)/6.6 -
			0.8*(a-44)/15 +
			0.5*(amt-127500)/70000 -
			0.5*(inc-82500)/39000 -
			0.4*(cs-575)/158 -
			0.4*(me-60)/35 +
			0.3*(dr-0.5)/0.23
		switch emp {
		case "Unemployed":
			logit += 0.5
		case "Part-time":
			logit += 0.25
		}
		if cosigner == "Yes" {
			logit -= 0.3
		}
		logit += noise.Rand()
		p := 1 / (1 + math.Exp(-logit))
		label := "0"
		if unit.Rand() < p {
			label = "1"
		}

		incStr := strconv.FormatFloat(inc, 'f', -1, 64)
		csStr := strconv.FormatFloat(cs, 'f', -1, 64)
		if unit.Rand() < opts.MissingRate {
			csStr = ""
		}
		if unit.Rand() < opts.MissingRate {
			incStr = ""
		}
		if unit.Rand() < opts.MissingRate {
			edu = ""
		}

		out = append(out, []string{
			fmt.Sprintf("L%06d", i+1),
			strconv.FormatFloat(a, 'f', -1, 64),
			incStr,
			strconv.FormatFloat(amt, 'f', -1, 64),
			csStr,
			strconv.FormatFloat(me, 'f', -1, 64),
			strconv.FormatFloat(nl, 'f', -1, 64),
			strconv.FormatFloat(ir, 'f', -1, 64),
			strconv.FormatFloat(term, 'f', -1, 64),
			strconv.FormatFloat(dr, 'f', -1, 64),
			edu, emp, mar, mortgage, dependents, purpose, cosigner,
			label,
		})
	}
	return out, nil
}

// WriteCSV writes records as comma-separated text.
func WriteCSV(w io.Writer, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return errors.Wrap(err, "write csv")
	}
	return nil
}
