package core

import "warrantycore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Product            = domain.Product
	Warranty           = domain.Warranty
	ServiceRequest     = domain.ServiceRequest
	LogisticsOrder     = domain.LogisticsOrder
	Repair             = domain.Repair
	Aggregate          = domain.Aggregate
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityProduct        = domain.EntityProduct
	EntityWarranty       = domain.EntityWarranty
	EntityServiceRequest = domain.EntityServiceRequest
	EntityLogisticsOrder = domain.EntityLogisticsOrder
	EntityRepair         = domain.EntityRepair
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)
