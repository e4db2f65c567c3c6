package data

// Column names of the loan default dataset.
const (
	LabelColumn = "Default"
	IDColumn    = "LoanID"
)

// NumericColumns are the numeric applicant attributes, in declared order.
var NumericColumns = []string{
	"Age",
	"Income",
	"LoanAmount",
	"CreditScore",
	"MonthsEmployed",
	"NumCreditLines",
	"InterestRate",
	"LoanTerm",
	"DTIRatio",
}

// CategoricalColumns are the categorical applicant attributes, in declared order.
var CategoricalColumns = []string{
	"Education",
	"EmploymentType",
	"MaritalStatus",
	"HasMortgage",
	"HasDependents",
	"LoanPurpose",
	"HasCoSigner",
}
