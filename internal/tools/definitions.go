package tools

import "github.com/b0ase/kintsugi/internal/domain"

// Tool names.
const (
	CreateContract = "create_contract"
	GetContract    = "get_contract"
	SignContract   = "sign_contract"
	ListContracts  = "list_contracts"

	SubmitMilestone    = "submit_milestone"
	ApproveMilestone   = "approve_milestone"
	RejectMilestone    = "reject_milestone"
	GetMilestoneStatus = "get_milestone_status"

	FundEscrow       = "fund_escrow"
	ReleasePayment   = "release_payment"
	GetEscrowBalance = "get_escrow_balance"
	RequestRefund    = "request_refund"

	RaiseDispute     = "raise_dispute"
	RespondToDispute = "respond_to_dispute"
	ResolveDispute   = "resolve_dispute"

	ProposeTerms = "propose_terms"
	AcceptTerms  = "accept_terms"
	CounterTerms = "counter_terms"

	MatchExchangeOrders = "match_exchange_orders"
	ExecuteTrade        = "execute_trade"
	GetOrderBook        = "get_order_book"
	GetExchangeTrades   = "get_exchange_trades"
	ProcessMatchQueue   = "process_match_queue"
)

var contractTools = []domain.ToolDefinition{
	{
		Name:        CreateContract,
		Description: "Create a new contract between founder, developer, and optionally investor. Returns a contract ID for tracking.",
		Parameters: object(props{
			"title":             str("Title of the contract/project"),
			"description":       str("Detailed description of the work to be done"),
			"founder_id":        str("User ID of the founder proposing the project"),
			"developer_id":      str("User ID of the developer accepting the work (optional at creation)"),
			"investor_id":       str("User ID of the investor funding the project (optional)"),
			"total_value_usd":   num("Total contract value in USD"),
			"equity_percentage": num("Equity offered to developer (0-100)"),
			"milestones": map[string]any{
				"type": "array",
				"items": object(props{
					"title":       typed("string"),
					"description": typed("string"),
					"value_usd":   typed("number"),
					"due_days":    typed("number"),
				}),
				"description": "List of milestones with values and deadlines",
			},
		}, "title", "description", "founder_id", "total_value_usd"),
	},
	{
		Name:        GetContract,
		Description: "Retrieve contract details by ID",
		Parameters: object(props{
			"contract_id": str("The contract ID to retrieve"),
		}, "contract_id"),
		ReadOnly: true,
	},
	{
		Name:        SignContract,
		Description: "Sign a contract as a party (founder, developer, or investor)",
		Parameters: object(props{
			"contract_id":    str("The contract ID to sign"),
			"user_id":        str("User ID of the signer"),
			"role":           enum("Role of the signer", "founder", "developer", "investor"),
			"signature_data": str("Cryptographic signature or agreement hash"),
		}, "contract_id", "user_id", "role"),
	},
	{
		Name:        ListContracts,
		Description: "List contracts for a user, optionally filtered by status",
		Parameters: object(props{
			"user_id": str("User ID to list contracts for"),
			"status":  enum("Filter by contract status", "draft", "pending_signatures", "active", "completed", "disputed", "cancelled"),
			"role":    enum("Filter by user role in contract", "founder", "developer", "investor", "any"),
		}, "user_id"),
		ReadOnly: true,
	},
}

var milestoneTools = []domain.ToolDefinition{
	{
		Name:        SubmitMilestone,
		Description: "Submit a milestone for review. Developer marks work as complete.",
		Parameters: object(props{
			"contract_id":  str("Contract ID containing the milestone"),
			"milestone_id": str("Milestone ID being submitted"),
			"deliverables": strList("List of deliverable URLs/references (GitHub PRs, commits, etc.)"),
			"notes":        str("Developer notes about the submission"),
		}, "contract_id", "milestone_id", "deliverables"),
	},
	{
		Name:        ApproveMilestone,
		Description: "Approve a submitted milestone. Founder or investor approves delivery.",
		Parameters: object(props{
			"contract_id":  str("Contract ID"),
			"milestone_id": str("Milestone ID to approve"),
			"approver_id":  str("User ID of the approver"),
			"feedback":     str("Optional feedback on the delivery"),
		}, "contract_id", "milestone_id", "approver_id"),
	},
	{
		Name:        RejectMilestone,
		Description: "Reject a submitted milestone with feedback for revision.",
		Parameters: object(props{
			"contract_id":      str("Contract ID"),
			"milestone_id":     str("Milestone ID to reject"),
			"rejector_id":      str("User ID of the rejector"),
			"reason":           str("Detailed reason for rejection"),
			"required_changes": strList("Specific changes required"),
		}, "contract_id", "milestone_id", "rejector_id", "reason"),
	},
	{
		Name:        GetMilestoneStatus,
		Description: "Get current status of all milestones in a contract",
		Parameters: object(props{
			"contract_id": str("Contract ID to check"),
		}, "contract_id"),
		ReadOnly: true,
	},
}

var paymentTools = []domain.ToolDefinition{
	{
		Name:        FundEscrow,
		Description: "Fund escrow for a contract. Investor or founder deposits funds.",
		Parameters: object(props{
			"contract_id":    str("Contract ID to fund"),
			"funder_id":      str("User ID of the funder"),
			"amount_usd":     num("Amount in USD to deposit"),
			"payment_method": enum("Payment method", "stripe", "paypal", "bsv", "eth", "sol"),
		}, "contract_id", "funder_id", "amount_usd", "payment_method"),
	},
	{
		Name:        ReleasePayment,
		Description: "Release payment from escrow for approved milestone",
		Parameters: object(props{
			"contract_id":  str("Contract ID"),
			"milestone_id": str("Approved milestone ID"),
			"recipient_id": str("Developer user ID receiving payment"),
		}, "contract_id", "milestone_id", "recipient_id"),
	},
	{
		Name:        GetEscrowBalance,
		Description: "Get current escrow balance for a contract",
		Parameters: object(props{
			"contract_id": str("Contract ID to check"),
		}, "contract_id"),
		ReadOnly: true,
	},
	{
		Name:        RequestRefund,
		Description: "Request refund from escrow (initiates dispute if contested)",
		Parameters: object(props{
			"contract_id":  str("Contract ID"),
			"requester_id": str("User ID requesting refund"),
			"reason":       str("Reason for refund request"),
			"amount_usd":   num("Amount to refund (partial or full)"),
		}, "contract_id", "requester_id", "reason"),
	},
}

var disputeTools = []domain.ToolDefinition{
	{
		Name:        RaiseDispute,
		Description: "Raise a formal dispute on a contract",
		Parameters: object(props{
			"contract_id":  str("Contract ID"),
			"disputer_id":  str("User ID raising the dispute"),
			"dispute_type": enum("Type of dispute", "quality", "timeline", "scope", "payment", "communication", "other"),
			"description":  str("Detailed description of the dispute"),
			"evidence":     strList("URLs to evidence (messages, commits, screenshots)"),
		}, "contract_id", "disputer_id", "dispute_type", "description"),
	},
	{
		Name:        RespondToDispute,
		Description: "Submit response to a dispute",
		Parameters: object(props{
			"dispute_id":          str("Dispute ID"),
			"responder_id":        str("User ID responding"),
			"response":            str("Response to the dispute"),
			"counter_evidence":    strList("URLs to counter-evidence"),
			"proposed_resolution": str("Proposed resolution"),
		}, "dispute_id", "responder_id", "response"),
	},
	{
		Name:        ResolveDispute,
		Description: "AI-mediated dispute resolution (requires both parties consent or timeout)",
		Parameters: object(props{
			"dispute_id":      str("Dispute ID"),
			"resolution_type": enum("How the resolution was reached", "mutual_agreement", "mediated", "timeout_default"),
			"outcome": nested("Resolution outcome", props{
				"refund_percentage": typed("number"),
				"continue_contract": typed("boolean"),
				"notes":             typed("string"),
			}),
		}, "dispute_id", "resolution_type", "outcome"),
	},
}

var negotiationTools = []domain.ToolDefinition{
	{
		Name:        ProposeTerms,
		Description: "Propose contract terms during negotiation",
		Parameters: object(props{
			"negotiation_id": str("Ongoing negotiation ID"),
			"proposer_id":    str("User ID making the proposal"),
			"terms":          nested("Proposed terms", termsProperties()),
			"rationale":      str("Explanation for the proposed terms"),
		}, "negotiation_id", "proposer_id", "terms"),
	},
	{
		Name:        AcceptTerms,
		Description: "Accept proposed terms",
		Parameters: object(props{
			"negotiation_id": str("Negotiation ID"),
			"accepter_id":    str("User ID accepting"),
		}, "negotiation_id", "accepter_id"),
	},
	{
		Name:        CounterTerms,
		Description: "Counter-propose modified terms",
		Parameters: object(props{
			"negotiation_id": str("Negotiation ID"),
			"proposer_id":    str("User ID counter-proposing"),
			"counter_terms":  nested("Counter-proposed terms", termsProperties()),
			"rationale":      str("Explanation for counter-proposal"),
		}, "negotiation_id", "proposer_id", "counter_terms"),
	},
}

var exchangeTools = []domain.ToolDefinition{
	{
		Name:        MatchExchangeOrders,
		Description: "Find and execute matching buy/sell orders for a token. Uses price-time priority algorithm.",
		Parameters: object(props{
			"token_id":    str("BSV-20 token ID to match orders for"),
			"max_matches": num("Maximum number of matches to execute (default: 10)"),
		}, "token_id"),
	},
	{
		Name:        ExecuteTrade,
		Description: "Execute a specific trade between matched buy and sell orders",
		Parameters: object(props{
			"buy_order_id":  str("UUID of the buy order"),
			"sell_order_id": str("UUID of the sell order"),
			"amount":        num("Amount of tokens to trade"),
		}, "buy_order_id", "sell_order_id", "amount"),
	},
	{
		Name:        GetOrderBook,
		Description: "Get the current order book for a token showing aggregated bids and asks",
		Parameters: object(props{
			"token_id": str("BSV-20 token ID"),
		}, "token_id"),
		ReadOnly: true,
	},
	{
		Name:        GetExchangeTrades,
		Description: "Get recent trades for a token",
		Parameters: object(props{
			"token_id": str("BSV-20 token ID"),
			"limit":    num("Maximum number of trades to return (default: 20)"),
		}, "token_id"),
		ReadOnly: true,
	},
	{
		Name:        ProcessMatchQueue,
		Description: "Process pending orders in the match queue for a token",
		Parameters: object(props{
			"token_id": str("BSV-20 token ID to process queue for"),
		}, "token_id"),
	},
}

func init() {
	tag := func(defs []domain.ToolDefinition, c domain.ToolCategory) {
		for i := range defs {
			defs[i].Category = c
		}
	}
	tag(contractTools, domain.CategoryContract)
	tag(milestoneTools, domain.CategoryMilestone)
	tag(paymentTools, domain.CategoryPayment)
	tag(disputeTools, domain.CategoryDispute)
	tag(negotiationTools, domain.CategoryNegotiation)
	tag(exchangeTools, domain.CategoryExchange)
}
