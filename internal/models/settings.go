package models

const (
	SettingAffiliateMinDeposit = "affiliate_min_deposit"
	SettingAffiliateCPAValue   = "affiliate_cpa_value"
)
