package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	&SysCustomer{},
	// WhatsApp
	&WaSession{},
	&WaMessageLog{},
	&WaStatusLog{},
}
