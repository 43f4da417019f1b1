package api

import (
	"fmt"
	"strings"

	"github.com/kalambet/siketchat/internal/backend"
)

// cannedConfidence is reported for every keyword hit. The mock does no
// scoring of its own.
const cannedConfidence = 0.85

const unknownTemplate = "I understand you're asking about: '%s'. Could you please provide more details?"

type canned struct {
	intent      string
	category    string
	keywords    []string
	text        string
	suggestions []string
}

// cannedReplies is checked in order; the first entry with a keyword
// contained in the message wins.
var cannedReplies = []canned{
	{
		intent:      "greeting",
		category:    "Greetings",
		keywords:    []string{"hello", "hi ", "hey", "good morning", "good afternoon"},
		text:        "Hello! Welcome to SiketBank. How can I assist you today?",
		suggestions: []string{"Account balance", "Transfer funds", "Branch locations", "Customer support"},
	},
	{
		intent:      "account_balance",
		category:    "Account",
		keywords:    []string{"balance", "how much money"},
		text:        "You can check your account balance by:\n1. Logging into online banking\n2. Using our mobile app\n3. Visiting any ATM\n4. Calling customer service at 1-800-SIKET-BANK",
		suggestions: []string{"How to transfer money?", "View transaction history", "Set up account alerts", "Statements"},
	},
	{
		intent:      "account_statement",
		category:    "Account",
		keywords:    []string{"statement", "transaction history"},
		text:        "You can download your account statement:\n1. Online banking → Statements\n2. Mobile app → My Accounts\n3. Visit branch with ID\nStatements available for last 7 years.",
		suggestions: []string{"Download statement PDF", "Request statement by email", "Statement period selection"},
	},
	{
		intent:      "transfer_funds",
		category:    "Transactions",
		keywords:    []string{"transfer", "send money", "wire"},
		text:        "To transfer funds:\n1. Log into online banking\n2. Go to Transfers → New Transfer\n3. Select account and amount\n4. Confirm details\nDaily limit: $10,000",
		suggestions: []string{"Transfer limits", "Schedule transfer", "International transfer", "Beneficiary management"},
	},
	{
		intent:      "card_issues",
		category:    "Cards",
		keywords:    []string{"lost card", "stolen card", "card blocked", "new card", "debit card", "credit card"},
		text:        "For card issues:\n• Lost/Stolen: Call 1-800-SIKET-CARD immediately\n• Block card: Use mobile app\n• Replacement: 3-5 business days\n• Emergency cash: Available at branches",
		suggestions: []string{"Report lost card", "Block card", "Request replacement", "Check card status"},
	},
	{
		intent:      "loan_inquiry",
		category:    "Loans",
		keywords:    []string{"loan", "mortgage", "borrow"},
		text:        "For loan inquiries:\n• Personal Loans: 5-15% interest\n• Home Loans: 7-10% interest\n• Auto Loans: 6-12% interest\nApply online or visit any branch.",
		suggestions: []string{"Check eligibility", "Interest rates", "Required documents", "Apply online"},
	},
	{
		intent:      "branch_locations",
		category:    "Locations",
		keywords:    []string{"branch", "atm", "near me", "location"},
		text:        "We have branches across the country:\n1. Use branch locator on website\n2. Download mobile app\n3. Call 1-800-SIKET-LOCATE\nMain branch: 123 Banking Street",
		suggestions: []string{"Working hours", "ATM locations", "Make appointment", "Services available"},
	},
	{
		intent:      "working_hours",
		category:    "Hours",
		keywords:    []string{"hours", "open", "schedule"},
		text:        "Our business hours:\n• Weekdays: 9:00 AM - 5:00 PM\n• Saturdays: 10:00 AM - 2:00 PM\n• Sundays: Closed\n• 24/7 Online Banking & ATMs",
		suggestions: []string{"Branch locations", "Customer support"},
	},
	{
		intent:      "customer_support",
		category:    "Support",
		keywords:    []string{"help", "support", "contact", "customer service"},
		text:        "Customer support options:\n• Phone: 1-800-SIKET-HELP (24/7)\n• Email: support@siketbank.com\n• Live Chat: Available on website\n• Branch: Visit during business hours",
		suggestions: []string{"Live chat", "Email support", "Phone callback", "Visit branch"},
	},
	{
		intent:      "security_concerns",
		category:    "Security",
		keywords:    []string{"fraud", "hacked", "suspicious", "password"},
		text:        "Security measures:\n• 2-factor authentication\n• SMS alerts for transactions\n• Biometric login\n• 24/7 fraud monitoring\nReport fraud: 1-800-SIKET-FRAUD",
		suggestions: []string{"Reset password", "Security features", "Block card"},
	},
}

type replyData struct {
	text        string
	intent      string
	category    string
	confidence  float64
	suggestions []string
}

func cannedReply(message string) replyData {
	// Padding lets short keywords like "hi " match at the end of a message.
	lower := strings.ToLower(message) + " "
	for _, c := range cannedReplies {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return replyData{
					text:        c.text,
					intent:      c.intent,
					category:    c.category,
					confidence:  cannedConfidence,
					suggestions: capSuggestions(c.suggestions),
				}
			}
		}
	}
	return replyData{
		text:        fmt.Sprintf(unknownTemplate, message),
		intent:      backend.UnknownIntent,
		category:    "general",
		suggestions: []string{},
	}
}

func capSuggestions(s []string) []string {
	if len(s) > backend.MaxSuggestions {
		s = s[:backend.MaxSuggestions]
	}
	return append([]string{}, s...)
}
