package model

// CategoryType indicates whether a category is for income or expense transactions.
type CategoryType string

const (
	// CategoryTypeIncome represents categories for income transactions.
	CategoryTypeIncome CategoryType = "income"
	// CategoryTypeExpense represents categories for expense transactions.
	CategoryTypeExpense CategoryType = "expense"
)

// Category is one entry of the categorization taxonomy offered to the AI provider.
type Category struct {
	Name          string
	Description   string
	Type          CategoryType
	Subcategories []string
	Essential     bool
}

// CategoryTypeFor maps a transaction direction to its taxonomy.
func CategoryTypeFor(d Direction) CategoryType {
	if d == DirectionIn {
		return CategoryTypeIncome
	}
	return CategoryTypeExpense
}

var expenseTaxonomy = []Category{
	{Name: "Groceries", Description: "Supermarkets and food stores", Essential: true, Subcategories: []string{"Supermarket", "Specialty Food", "Warehouse Club"}},
	{Name: "Dining", Description: "Restaurants, cafes, takeout and delivery", Subcategories: []string{"Restaurant", "Coffee", "Fast Food", "Delivery"}},
	{Name: "Shopping", Description: "General merchandise and online retail", Subcategories: []string{"Online Retail", "Clothing", "Electronics", "Home Goods"}},
	{Name: "Housing", Description: "Rent, mortgage and home maintenance", Essential: true, Subcategories: []string{"Rent", "Mortgage", "Repairs", "Furnishings"}},
	{Name: "Utilities", Description: "Power, water, internet and phone", Essential: true, Subcategories: []string{"Electricity", "Water", "Internet", "Mobile Phone"}},
	{Name: "Transportation", Description: "Fuel, transit, rideshare and parking", Essential: true, Subcategories: []string{"Fuel", "Public Transit", "Rideshare", "Parking", "Auto Maintenance"}},
	{Name: "Healthcare", Description: "Medical, dental and pharmacy", Essential: true, Subcategories: []string{"Pharmacy", "Doctor", "Dental", "Vision"}},
	{Name: "Insurance", Description: "Health, auto, home and life insurance premiums", Essential: true, Subcategories: []string{"Health", "Auto", "Home", "Life"}},
	{Name: "Subscriptions", Description: "Recurring software, media and app subscriptions", Subcategories: []string{"Streaming", "Software", "News", "Apps"}},
	{Name: "Entertainment", Description: "Games, events, hobbies and media purchases", Subcategories: []string{"Games", "Events", "Books", "Music"}},
	{Name: "Travel", Description: "Flights, lodging and vacation spending", Subcategories: []string{"Airfare", "Lodging", "Car Rental"}},
	{Name: "Personal Care", Description: "Haircuts, cosmetics and fitness", Subcategories: []string{"Salon", "Cosmetics", "Fitness"}},
	{Name: "Education", Description: "Tuition, courses and school supplies", Essential: true, Subcategories: []string{"Tuition", "Courses", "Supplies"}},
	{Name: "Gifts & Donations", Description: "Presents and charitable giving", Subcategories: []string{"Gifts", "Charity"}},
	{Name: "Fees", Description: "Bank fees, interest charges and penalties", Subcategories: []string{"Bank Fee", "Interest", "Late Fee"}},
	{Name: "Taxes", Description: "Tax payments", Essential: true, Subcategories: []string{"Federal", "State", "Property"}},
	{Name: "Transfers", Description: "Moves between own accounts and card payments", Subcategories: []string{"Credit Card Payment", "Savings", "Investment"}},
}

var incomeTaxonomy = []Category{
	{Name: "Salary", Description: "Regular payroll deposits", Subcategories: []string{"Payroll", "Bonus"}},
	{Name: "Business Income", Description: "Client payments and sales", Subcategories: []string{"Client Payment", "Sales"}},
	{Name: "Investment Income", Description: "Dividends, interest and capital gains", Subcategories: []string{"Dividends", "Interest", "Capital Gains"}},
	{Name: "Refunds", Description: "Merchant refunds and returns", Subcategories: []string{"Return", "Chargeback"}},
	{Name: "Reimbursements", Description: "Expense reimbursements from employers or friends", Subcategories: []string{"Employer", "Personal"}},
	{Name: "Government", Description: "Tax refunds and benefits", Subcategories: []string{"Tax Refund", "Benefits"}},
	{Name: "Transfers", Description: "Moves in from own accounts", Subcategories: []string{"Savings", "Investment"}},
	{Name: "Other Income", Description: "Gifts received and anything else", Subcategories: []string{"Gift", "Miscellaneous"}},
}

// Taxonomy returns the categories offered for transactions of direction d.
func Taxonomy(d Direction) []Category {
	if CategoryTypeFor(d) == CategoryTypeIncome {
		return incomeTaxonomy
	}
	return expenseTaxonomy
}

// FindCategory looks up a category by case-sensitive name within a taxonomy.
func FindCategory(d Direction, name string) (Category, bool) {
	for _, c := range Taxonomy(d) {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}
