// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

// Package due models the Portal Único export declaration payload and its
// normalization into relational row batches.
package due

import "github.com/shopspring/decimal"

// Document is the principal DUE payload as returned by
// GET …/due/api/ext/due/numero-da-due/{numero}. Field names follow the wire
// format; datetimes stay strings so the upstream offset survives untouched.
type Document struct {
	Numero                              string          `json:"numero"`
	ChaveDeAcesso                       string          `json:"chaveDeAcesso"`
	DataDeRegistro                      string          `json:"dataDeRegistro"`
	Bloqueio                            bool            `json:"bloqueio"`
	Canal                               string          `json:"canal"`
	EmbarqueEmRecintoAlfandegado        bool            `json:"embarqueEmRecintoAlfandegado"`
	DespachoEmRecintoAlfandegado        bool            `json:"despachoEmRecintoAlfandegado"`
	FormaDeExportacao                   string          `json:"formaDeExportacao"`
	ImpedidoDeEmbarque                  bool            `json:"impedidoDeEmbarque"`
	InformacoesComplementares           string          `json:"informacoesComplementares"`
	RUC                                 string          `json:"ruc"`
	Situacao                            string          `json:"situacao"`
	SituacaoDoTratamentoAdministrativo  string          `json:"situacaoDoTratamentoAdministrativo"`
	Tipo                                string          `json:"tipo"`
	TratamentoPrioritario               bool            `json:"tratamentoPrioritario"`
	ResponsavelPeloACD                  string          `json:"responsavelPeloACD"`
	DespachoEmRecintoDomiciliar         bool            `json:"despachoEmRecintoDomiciliar"`
	DataDeCriacao                       string          `json:"dataDeCriacao"`
	DataDoCCE                           string          `json:"dataDoCCE"`
	DataDoDesembaraco                   string          `json:"dataDoDesembaraco"`
	DataDoACD                           string          `json:"dataDoAcd"`
	DataDaAverbacao                     string          `json:"dataDaAverbacao"`
	ValorTotalMercadoria                decimal.Decimal `json:"valorTotalMercadoria"`
	InclusaoNotaFiscal                  bool            `json:"inclusaoNotaFiscal"`
	ExigenciaAtiva                      bool            `json:"exigenciaAtiva"`
	Consorciada                         bool            `json:"consorciada"`
	DAT                                 bool            `json:"dat"`
	OEA                                 bool            `json:"oea"`
	Declarante                          Actor           `json:"declarante"`
	Moeda                               CodeRef         `json:"moeda"`
	PaisImportador                      CodeRef         `json:"paisImportador"`
	RecintoAduaneiroDeDespacho          StringCodeRef   `json:"recintoAduaneiroDeDespacho"`
	RecintoAduaneiroDeEmbarque          StringCodeRef   `json:"recintoAduaneiroDeEmbarque"`
	UnidadeLocalDeDespacho              StringCodeRef   `json:"unidadeLocalDeDespacho"`
	UnidadeLocalDeEmbarque              StringCodeRef   `json:"unidadeLocalDeEmbarque"`
	EventosDoHistorico                  []Event         `json:"eventosDoHistorico"`
	Itens                               []Item          `json:"itens"`
	SituacoesDaCarga                    []CargoSituation `json:"situacoesDaCarga"`
	Solicitacoes                        []Request       `json:"solicitacoes"`
	DeclaracaoTributaria                TaxDeclaration  `json:"declaracaoTributaria"`
}

// Actor is a declarant or exporter identification block.
type Actor struct {
	NumeroDoDocumento string      `json:"numeroDoDocumento"`
	TipoDoDocumento   string      `json:"tipoDoDocumento"`
	Nome              string      `json:"nome"`
	Estrangeiro       bool        `json:"estrangeiro"`
	Nacionalidade     Nationality `json:"nacionalidade"`
}

type Nationality struct {
	Codigo       int    `json:"codigo"`
	Nome         string `json:"nome"`
	NomeResumido string `json:"nomeResumido"`
}

// CodeRef is a numeric-code reference (currency, country).
type CodeRef struct {
	Codigo int `json:"codigo"`
}

// StringCodeRef is a string-code reference (enclosures, customs units).
type StringCodeRef struct {
	Codigo string `json:"codigo"`
}

// Event is one history entry. The upstream documents "detalhes" and
// "motivo" fields here but never populates them; they are not modeled.
type Event struct {
	DataEHoraDoEvento     string `json:"dataEHoraDoEvento"`
	Evento                string `json:"evento"`
	Responsavel           string `json:"responsavel"`
	InformacoesAdicionais string `json:"informacoesAdicionais"`
}

// Item is one declaration line.
type Item struct {
	Numero                                     int             `json:"numero"`
	QuantidadeNaUnidadeEstatistica             decimal.Decimal `json:"quantidadeNaUnidadeEstatistica"`
	PesoLiquidoTotal                           decimal.Decimal `json:"pesoLiquidoTotal"`
	ValorDaMercadoriaNaCondicaoDeVenda         decimal.Decimal `json:"valorDaMercadoriaNaCondicaoDeVenda"`
	ValorDaMercadoriaNoLocalDeEmbarque         decimal.Decimal `json:"valorDaMercadoriaNoLocalDeEmbarque"`
	ValorDaMercadoriaNoLocalDeEmbarqueEmReais  decimal.Decimal `json:"valorDaMercadoriaNoLocalDeEmbarqueEmReais"`
	ValorDaMercadoriaNaCondicaoDeVendaEmReais  decimal.Decimal `json:"valorDaMercadoriaNaCondicaoDeVendaEmReais"`
	DataDeConversao                            string          `json:"dataDeConversao"`
	DescricaoDaMercadoria                      string          `json:"descricaoDaMercadoria"`
	UnidadeComercializada                      string          `json:"unidadeComercializada"`
	NomeImportador                             string          `json:"nomeImportador"`
	EnderecoImportador                         string          `json:"enderecoImportador"`
	ValorTotalCalculadoItem                    decimal.Decimal `json:"valorTotalCalculadoItem"`
	QuantidadeNaUnidadeComercializada          decimal.Decimal `json:"quantidadeNaUnidadeComercializada"`
	NCM                                        NCM             `json:"ncm"`
	Exportador                                 Actor           `json:"exportador"`
	CodigoCondicaoVenda                        StringCodeRef   `json:"codigoCondicaoVenda"`
	ExportacaoTemporaria                       TemporaryExport `json:"exportacaoTemporaria"`
	ListaDeEnquadramentos                      []Framework     `json:"listaDeEnquadramentos"`
	ListaPaisDestino                           []CodeRef       `json:"listaPaisDestino"`
	TratamentosAdministrativos                 []AdminTreatment `json:"tratamentosAdministrativos"`
	ItensDaNotaDeRemessa                       []InvoiceItem   `json:"itensDaNotaDeRemessa"`
	ItemDaNotaFiscalDeExportacao               *InvoiceItem    `json:"itemDaNotaFiscalDeExportacao"`
	ItensDeNotaComplementar                    []InvoiceItem   `json:"itensDeNotaComplementar"`
	Atributos                                  []Attribute     `json:"atributos"`
	DocumentosImportacao                       []ImportDocument `json:"documentosImportacao"`
	DocumentosDeTransformacao                  []ImportDocument `json:"documentosDeTransformacao"`
	CalculoTributario                          TaxCalculation  `json:"calculoTributario"`
}

type NCM struct {
	Codigo                  string `json:"codigo"`
	Descricao               string `json:"descricao"`
	UnidadeMedidaEstatistica string `json:"unidadeMedidaEstatistica"`
}

type TemporaryExport struct {
	Temporaria bool `json:"temporaria"`
}

type Framework struct {
	Codigo       int    `json:"codigo"`
	DataRegistro string `json:"dataRegistro"`
	Descricao    string `json:"descricao"`
	Grupo        int    `json:"grupo"`
	Tipo         int    `json:"tipo"`
}

type AdminTreatment struct {
	Mensagem             string   `json:"mensagem"`
	ImpeditivoDeEmbarque bool     `json:"impeditivoDeEmbarque"`
	CodigoLPCO           string   `json:"codigoLPCO"`
	Situacao             string   `json:"situacao"`
	Orgaos               []string `json:"orgaos"`
}

// InvoiceItem is one fiscal-invoice line attached to a declaration item. It
// serves the remittance, export and complementary note shapes; fields a
// shape does not carry decode to their zero values.
type InvoiceItem struct {
	NumeroDoItem          int             `json:"numeroDoItem"`
	NotaFiscal            Invoice         `json:"notaFiscal"`
	CFOP                  int             `json:"cfop"`
	CodigoDoProduto       string          `json:"codigoDoProduto"`
	Descricao             string          `json:"descricao"`
	QuantidadeEstatistica decimal.Decimal `json:"quantidadeEstatistica"`
	UnidadeComercial      string          `json:"unidadeComercial"`
	ValorTotalBruto       decimal.Decimal `json:"valorTotalBruto"`
	ValorTotalCalculado   decimal.Decimal `json:"valorTotalCalculado"`
	QuantidadeConsumida   decimal.Decimal `json:"quantidadeConsumida"`
	NCM                   NCM             `json:"ncm"`
	ApresentadaParaDespacho bool          `json:"apresentadaParaDespacho"`
}

type Invoice struct {
	ChaveDeAcesso          string        `json:"chaveDeAcesso"`
	Modelo                 string        `json:"modelo"`
	Serie                  int           `json:"serie"`
	NumeroDoDocumento      int           `json:"numeroDoDocumento"`
	UFDoEmissor            string        `json:"ufDoEmissor"`
	IdentificacaoDoEmitente IssuerID     `json:"identificacaoDoEmitente"`
	Finalidade             string        `json:"finalidade"`
	QuantidadeDeItens      int           `json:"quantidadeDeItens"`
	// Upstream misspells this key; the wire name is authoritative.
	NotaFiscalEletronica   bool          `json:"notaFicalEletronica"`
}

type IssuerID struct {
	Numero string `json:"numero"`
	CNPJ   bool   `json:"cnpj"`
	CPF    bool   `json:"cpf"`
}

type Attribute struct {
	Codigo    string `json:"codigo"`
	Valor     string `json:"valor"`
	Descricao string `json:"descricao"`
}

type ImportDocument struct {
	Tipo                string          `json:"tipo"`
	Numero              string          `json:"numero"`
	DataRegistro        string          `json:"dataRegistro"`
	ItemDocumento       int             `json:"itemDocumento"`
	QuantidadeUtilizada decimal.Decimal `json:"quantidadeUtilizada"`
}

type TaxCalculation struct {
	TratamentosTributarios []TaxTreatment `json:"tratamentosTributarios"`
	QuadroDeCalculos       []TaxBracket   `json:"quadroDeCalculos"`
}

type TaxTreatment struct {
	Codigo    string `json:"codigo"`
	Descricao string `json:"descricao"`
	Tipo      string `json:"tipo"`
	Tributo   string `json:"tributo"`
}

type TaxBracket struct {
	Tributo        string          `json:"tributo"`
	BaseDeCalculo  decimal.Decimal `json:"baseDeCalculo"`
	Aliquota       decimal.Decimal `json:"aliquota"`
	ValorDevido    decimal.Decimal `json:"valorDevido"`
	ValorRecolhido decimal.Decimal `json:"valorRecolhido"`
	ValorCompensado decimal.Decimal `json:"valorCompensado"`
}

type CargoSituation struct {
	Codigo       int    `json:"codigo"`
	Descricao    string `json:"descricao"`
	CargaOperada bool   `json:"cargaOperada"`
}

type Request struct {
	TipoSolicitacao             string `json:"tipoSolicitacao"`
	DataDaSolicitacao           string `json:"dataDaSolicitacao"`
	UsuarioResponsavel          string `json:"usuarioResponsavel"`
	CodigoDoStatusDaSolicitacao int    `json:"codigoDoStatusDaSolicitacao"`
	StatusDaSolicitacao         string `json:"statusDaSolicitacao"`
	DataDeApreciacao            string `json:"dataDeApreciacao"`
	Motivo                      string `json:"motivo"`
}

type TaxDeclaration struct {
	Divergente    bool            `json:"divergente"`
	Compensacoes  []Compensation  `json:"compensacoes"`
	Recolhimentos []TaxCollection `json:"recolhimentos"`
	Contestacoes  []Contestation  `json:"contestacoes"`
}

type Compensation struct {
	DataDoRegistro     string          `json:"dataDoRegistro"`
	NumeroDaDeclaracao string          `json:"numeroDaDeclaracao"`
	ValorCompensado    decimal.Decimal `json:"valorCompensado"`
}

type TaxCollection struct {
	DataDoPagamento         string          `json:"dataDoPagamento"`
	DataDoRegistro          string          `json:"dataDoRegistro"`
	ValorDaMulta            decimal.Decimal `json:"valorDaMulta"`
	ValorDoImpostoRecolhido decimal.Decimal `json:"valorDoImpostoRecolhido"`
	ValorDoJurosMora        decimal.Decimal `json:"valorDoJurosMora"`
}

type Contestation struct {
	DataDoRegistro   string `json:"dataDoRegistro"`
	Motivo           string `json:"motivo"`
	Status           string `json:"status"`
	DataDeApreciacao string `json:"dataDeApreciacao"`
	Observacao       string `json:"observacao"`
}

// BondedAct is one drawback concessionary act, suspension or exemption.
type BondedAct struct {
	Numero                   string          `json:"numero"`
	Tipo                     ActType         `json:"tipo"`
	Item                     ActItem         `json:"item"`
	Beneficiario             Beneficiary     `json:"beneficiario"`
	QuantidadeExportada      decimal.Decimal `json:"quantidadeExportada"`
	ValorComCoberturaCambial decimal.Decimal `json:"valorComCoberturaCambial"`
	ValorSemCoberturaCambial decimal.Decimal `json:"valorSemCoberturaCambial"`
	ItemDeDUE                ActDueItem      `json:"itemDeDUE"`
}

type ActType struct {
	Codigo    int    `json:"codigo"`
	Descricao string `json:"descricao"`
}

type ActItem struct {
	Numero string `json:"numero"`
	NCM    string `json:"ncm"`
}

type Beneficiary struct {
	CNPJ string `json:"cnpj"`
}

type ActDueItem struct {
	Numero string `json:"numero"`
}

// FiscalRequirement is one entry of the exigencias-fiscais listing.
type FiscalRequirement struct {
	Numero           string          `json:"numero"`
	Tipo             string          `json:"tipo"`
	DataCriacao      string          `json:"dataCriacao"`
	DataLimite       string          `json:"dataLimite"`
	Status           string          `json:"status"`
	OrgaoResponsavel string          `json:"orgaoResponsavel"`
	Descricao        string          `json:"descricao"`
	ValorExigido     decimal.Decimal `json:"valorExigido"`
	ValorPago        decimal.Decimal `json:"valorPago"`
	Observacoes      string          `json:"observacoes"`
}

// LookupEntry is one element of the lookup-by-invoice response array.
type LookupEntry struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}
