package service

type Services struct {
	Tabs *TabService
}

func NewServices(opts Options) *Services {
	return &Services{
		Tabs: NewTabService(opts),
	}
}
