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

package due

import "github.com/shopspring/decimal"

// Destination table names. Child tables are replaced as a set whenever the
// owning declaration is re-normalized.
const (
	TablePrincipal            = "due_principal"
	TableEvents               = "due_eventos_historico"
	TableItems                = "due_itens"
	TableItemFrameworks       = "due_item_enquadramentos"
	TableItemDestinations     = "due_item_paises_destino"
	TableItemAdminTreatments  = "due_item_tratamentos_administrativos"
	TableItemAdminAgencies    = "due_item_tratamentos_administrativos_orgaos"
	TableItemRemittanceNotes  = "due_item_notas_remessa"
	TableItemExportNote       = "due_item_nota_fiscal_exportacao"
	TableItemComplementary    = "due_item_notas_complementares"
	TableItemAttributes       = "due_item_atributos"
	TableItemImportDocs       = "due_item_documentos_importacao"
	TableItemTransformDocs    = "due_item_documentos_transformacao"
	TableItemTaxTreatments    = "due_item_calculo_tributario_tratamentos"
	TableItemTaxBrackets      = "due_item_calculo_tributario_quadros"
	TableCargoSituations      = "due_situacoes_carga"
	TableRequests             = "due_solicitacoes"
	TableTaxCompensations     = "due_declaracao_tributaria_compensacoes"
	TableTaxCollections       = "due_declaracao_tributaria_recolhimentos"
	TableTaxContestations     = "due_declaracao_tributaria_contestacoes"
	TableSuspensionActs       = "due_atos_concessorios_suspensao"
	TableExemptionActs        = "due_atos_concessorios_isencao"
	TableFiscalRequirements   = "due_exigencias_fiscais"
)

// AllTables lists every destination table, principal first, in fan-out
// order. The status report walks it for row counts.
var AllTables = []string{
	TablePrincipal,
	TableEvents,
	TableItems,
	TableItemFrameworks,
	TableItemDestinations,
	TableItemAdminTreatments,
	TableItemAdminAgencies,
	TableItemRemittanceNotes,
	TableItemExportNote,
	TableItemComplementary,
	TableItemAttributes,
	TableItemImportDocs,
	TableItemTransformDocs,
	TableItemTaxTreatments,
	TableItemTaxBrackets,
	TableCargoSituations,
	TableRequests,
	TableTaxCompensations,
	TableTaxCollections,
	TableTaxContestations,
	TableSuspensionActs,
	TableExemptionActs,
	TableFiscalRequirements,
}

// PrincipalRow is the authoritative record, keyed by the declaration
// number. DataDeRegistro doubles as the remote revision; the last-synced
// stamp is written by the store at commit time.
type PrincipalRow struct {
	Numero                             string          `db:"numero"`
	ChaveDeAcesso                      string          `db:"chave_de_acesso"`
	DataDeRegistro                     *string         `db:"data_de_registro"`
	Bloqueio                           bool            `db:"bloqueio"`
	Canal                              string          `db:"canal"`
	EmbarqueEmRecintoAlfandegado       bool            `db:"embarque_em_recinto_alfandegado"`
	DespachoEmRecintoAlfandegado       bool            `db:"despacho_em_recinto_alfandegado"`
	FormaDeExportacao                  string          `db:"forma_de_exportacao"`
	ImpedidoDeEmbarque                 bool            `db:"impedido_de_embarque"`
	InformacoesComplementares          string          `db:"informacoes_complementares"`
	RUC                                string          `db:"ruc"`
	Situacao                           string          `db:"situacao"`
	SituacaoDoTratamentoAdministrativo string          `db:"situacao_do_tratamento_administrativo"`
	Tipo                               string          `db:"tipo"`
	TratamentoPrioritario              bool            `db:"tratamento_prioritario"`
	ResponsavelPeloACD                 string          `db:"responsavel_pelo_acd"`
	DespachoEmRecintoDomiciliar        bool            `db:"despacho_em_recinto_domiciliar"`
	DataDeCriacao                      *string         `db:"data_de_criacao"`
	DataDoCCE                          *string         `db:"data_do_cce"`
	DataDoDesembaraco                  *string         `db:"data_do_desembaraco"`
	DataDoACD                          *string         `db:"data_do_acd"`
	DataDaAverbacao                    *string         `db:"data_da_averbacao"`
	ValorTotalMercadoria               decimal.Decimal `db:"valor_total_mercadoria"`
	InclusaoNotaFiscal                 bool            `db:"inclusao_nota_fiscal"`
	ExigenciaAtiva                     bool            `db:"exigencia_ativa"`
	Consorciada                        bool            `db:"consorciada"`
	DAT                                bool            `db:"dat"`
	OEA                                bool            `db:"oea"`
	DeclaranteNumeroDoDocumento        string          `db:"declarante_numero_do_documento"`
	DeclaranteTipoDoDocumento          string          `db:"declarante_tipo_do_documento"`
	DeclaranteNome                     string          `db:"declarante_nome"`
	DeclaranteEstrangeiro              bool            `db:"declarante_estrangeiro"`
	DeclaranteNacionalidadeCodigo      int             `db:"declarante_nacionalidade_codigo"`
	DeclaranteNacionalidadeNome        string          `db:"declarante_nacionalidade_nome"`
	DeclaranteNacionalidadeResumido    string          `db:"declarante_nacionalidade_nome_resumido"`
	MoedaCodigo                        int             `db:"moeda_codigo"`
	PaisImportadorCodigo               int             `db:"pais_importador_codigo"`
	RecintoAduaneiroDeDespachoCodigo   string          `db:"recinto_aduaneiro_de_despacho_codigo"`
	RecintoAduaneiroDeEmbarqueCodigo   string          `db:"recinto_aduaneiro_de_embarque_codigo"`
	UnidadeLocalDeDespachoCodigo       string          `db:"unidade_local_de_despacho_codigo"`
	UnidadeLocalDeEmbarqueCodigo       string          `db:"unidade_local_de_embarque_codigo"`
	DeclaracaoTributariaDivergente     bool            `db:"declaracao_tributaria_divergente"`
}

type EventRow struct {
	NumeroDue             string  `db:"numero_due"`
	DataEHoraDoEvento     *string `db:"data_e_hora_do_evento"`
	Evento                string  `db:"evento"`
	Responsavel           string  `db:"responsavel"`
	InformacoesAdicionais string  `db:"informacoes_adicionais"`
}

// ItemRow carries one declaration line. ID is "<due>_<item>" to give child
// rows a single-column parent reference, as the schema expects.
type ItemRow struct {
	ID                                        string          `db:"id"`
	NumeroDue                                 string          `db:"numero_due"`
	Numero                                    int             `db:"numero"`
	QuantidadeNaUnidadeEstatistica            decimal.Decimal `db:"quantidade_na_unidade_estatistica"`
	PesoLiquidoTotal                          decimal.Decimal `db:"peso_liquido_total"`
	ValorDaMercadoriaNaCondicaoDeVenda        decimal.Decimal `db:"valor_da_mercadoria_na_condicao_de_venda"`
	ValorDaMercadoriaNoLocalDeEmbarque        decimal.Decimal `db:"valor_da_mercadoria_no_local_de_embarque"`
	ValorDaMercadoriaNoLocalDeEmbarqueEmReais decimal.Decimal `db:"valor_da_mercadoria_no_local_de_embarque_em_reais"`
	ValorDaMercadoriaNaCondicaoDeVendaEmReais decimal.Decimal `db:"valor_da_mercadoria_na_condicao_de_venda_em_reais"`
	DataDeConversao                           *string         `db:"data_de_conversao"`
	DescricaoDaMercadoria                     string          `db:"descricao_da_mercadoria"`
	UnidadeComercializada                     string          `db:"unidade_comercializada"`
	NomeImportador                            string          `db:"nome_importador"`
	EnderecoImportador                        string          `db:"endereco_importador"`
	ValorTotalCalculadoItem                   decimal.Decimal `db:"valor_total_calculado_item"`
	QuantidadeNaUnidadeComercializada         decimal.Decimal `db:"quantidade_na_unidade_comercializada"`
	NCMCodigo                                 string          `db:"ncm_codigo"`
	NCMDescricao                              string          `db:"ncm_descricao"`
	NCMUnidadeMedidaEstatistica               string          `db:"ncm_unidade_medida_estatistica"`
	// The upstream never populates the exporter name; only the document
	// identification is carried.
	ExportadorNumeroDoDocumento     string `db:"exportador_numero_do_documento"`
	ExportadorTipoDoDocumento       string `db:"exportador_tipo_do_documento"`
	ExportadorEstrangeiro           bool   `db:"exportador_estrangeiro"`
	ExportadorNacionalidadeCodigo   int    `db:"exportador_nacionalidade_codigo"`
	ExportadorNacionalidadeNome     string `db:"exportador_nacionalidade_nome"`
	ExportadorNacionalidadeResumido string `db:"exportador_nacionalidade_nome_resumido"`
	CodigoCondicaoVenda             string `db:"codigo_condicao_venda"`
	ExportacaoTemporaria            bool   `db:"exportacao_temporaria"`
}

type ItemFrameworkRow struct {
	DueItemID    string  `db:"due_item_id"`
	NumeroDue    string  `db:"numero_due"`
	ItemNumero   int     `db:"item_numero"`
	Codigo       int     `db:"codigo"`
	DataRegistro *string `db:"data_registro"`
	Descricao    string  `db:"descricao"`
	Grupo        int     `db:"grupo"`
	Tipo         int     `db:"tipo"`
}

type ItemDestinationRow struct {
	DueItemID  string `db:"due_item_id"`
	NumeroDue  string `db:"numero_due"`
	ItemNumero int    `db:"item_numero"`
	CodigoPais int    `db:"codigo_pais"`
}

type ItemAdminTreatmentRow struct {
	ID                   string `db:"id"`
	DueItemID            string `db:"due_item_id"`
	NumeroDue            string `db:"numero_due"`
	ItemNumero           int    `db:"item_numero"`
	Mensagem             string `db:"mensagem"`
	ImpeditivoDeEmbarque bool   `db:"impeditivo_de_embarque"`
	CodigoLPCO           string `db:"codigo_lpco"`
	Situacao             string `db:"situacao"`
}

type ItemAdminAgencyRow struct {
	TratamentoAdministrativoID string `db:"tratamento_administrativo_id"`
	DueItemID                  string `db:"due_item_id"`
	NumeroDue                  string `db:"numero_due"`
	Orgao                      string `db:"orgao"`
}

type ItemRemittanceNoteRow struct {
	DueItemID               string          `db:"due_item_id"`
	NumeroDue               string          `db:"numero_due"`
	ItemNumero              int             `db:"item_numero"`
	NumeroDoItem            int             `db:"numero_do_item"`
	ChaveDeAcesso           string          `db:"chave_de_acesso"`
	CFOP                    int             `db:"cfop"`
	CodigoDoProduto         string          `db:"codigo_do_produto"`
	Descricao               string          `db:"descricao"`
	QuantidadeEstatistica   decimal.Decimal `db:"quantidade_estatistica"`
	UnidadeComercial        string          `db:"unidade_comercial"`
	ValorTotalBruto         decimal.Decimal `db:"valor_total_bruto"`
	QuantidadeConsumida     decimal.Decimal `db:"quantidade_consumida"`
	NCMCodigo               string          `db:"ncm_codigo"`
	NCMDescricao            string          `db:"ncm_descricao"`
	NCMUnidadeMedida        string          `db:"ncm_unidade_medida_estatistica"`
	Modelo                  string          `db:"modelo"`
	Serie                   int             `db:"serie"`
	NumeroDoDocumento       int             `db:"numero_do_documento"`
	UFDoEmissor             string          `db:"uf_do_emissor"`
	IdentificacaoEmitente   string          `db:"identificacao_emitente"`
	EmitenteCNPJ            bool            `db:"emitente_cnpj"`
	EmitenteCPF             bool            `db:"emitente_cpf"`
	Finalidade              string          `db:"finalidade"`
	QuantidadeDeItens       int             `db:"quantidade_de_itens"`
	NotaFiscalEletronica    bool            `db:"nota_fiscal_eletronica"`
	ApresentadaParaDespacho bool            `db:"apresentada_para_despacho"`
}

type ItemExportNoteRow struct {
	DueItemID               string          `db:"due_item_id"`
	NumeroDue               string          `db:"numero_due"`
	ItemNumero              int             `db:"item_numero"`
	NumeroDoItem            int             `db:"numero_do_item"`
	ChaveDeAcesso           string          `db:"chave_de_acesso"`
	Modelo                  string          `db:"modelo"`
	Serie                   int             `db:"serie"`
	NumeroDoDocumento       int             `db:"numero_do_documento"`
	UFDoEmissor             string          `db:"uf_do_emissor"`
	IdentificacaoEmitente   string          `db:"identificacao_emitente"`
	EmitenteCNPJ            bool            `db:"emitente_cnpj"`
	EmitenteCPF             bool            `db:"emitente_cpf"`
	Finalidade              string          `db:"finalidade"`
	QuantidadeDeItens       int             `db:"quantidade_de_itens"`
	NotaFiscalEletronica    bool            `db:"nota_fiscal_eletronica"`
	CFOP                    int             `db:"cfop"`
	CodigoDoProduto         string          `db:"codigo_do_produto"`
	Descricao               string          `db:"descricao"`
	QuantidadeEstatistica   decimal.Decimal `db:"quantidade_estatistica"`
	UnidadeComercial        string          `db:"unidade_comercial"`
	ValorTotalCalculado     decimal.Decimal `db:"valor_total_calculado"`
	NCMCodigo               string          `db:"ncm_codigo"`
	NCMDescricao            string          `db:"ncm_descricao"`
	NCMUnidadeMedida        string          `db:"ncm_unidade_medida_estatistica"`
	ApresentadaParaDespacho bool            `db:"apresentada_para_despacho"`
}

type ItemComplementaryNoteRow struct {
	DueItemID             string          `db:"due_item_id"`
	NumeroDue             string          `db:"numero_due"`
	ItemNumero            int             `db:"item_numero"`
	Indice                int             `db:"indice"`
	NumeroDoItem          int             `db:"numero_do_item"`
	ChaveDeAcesso         string          `db:"chave_de_acesso"`
	Modelo                string          `db:"modelo"`
	Serie                 int             `db:"serie"`
	NumeroDoDocumento     int             `db:"numero_do_documento"`
	UFDoEmissor           string          `db:"uf_do_emissor"`
	IdentificacaoEmitente string          `db:"identificacao_emitente"`
	CFOP                  int             `db:"cfop"`
	CodigoDoProduto       string          `db:"codigo_do_produto"`
	Descricao             string          `db:"descricao"`
	QuantidadeEstatistica decimal.Decimal `db:"quantidade_estatistica"`
	UnidadeComercial      string          `db:"unidade_comercial"`
	ValorTotalBruto       decimal.Decimal `db:"valor_total_bruto"`
	NCMCodigo             string          `db:"ncm_codigo"`
}

type ItemAttributeRow struct {
	DueItemID  string `db:"due_item_id"`
	NumeroDue  string `db:"numero_due"`
	ItemNumero int    `db:"item_numero"`
	Indice     int    `db:"indice"`
	Codigo     string `db:"codigo"`
	Valor      string `db:"valor"`
	Descricao  string `db:"descricao"`
}

type ItemImportDocRow struct {
	DueItemID           string          `db:"due_item_id"`
	NumeroDue           string          `db:"numero_due"`
	ItemNumero          int             `db:"item_numero"`
	Indice              int             `db:"indice"`
	Tipo                string          `db:"tipo"`
	Numero              string          `db:"numero"`
	DataRegistro        *string         `db:"data_registro"`
	ItemDocumento       int             `db:"item_documento"`
	QuantidadeUtilizada decimal.Decimal `db:"quantidade_utilizada"`
}

type ItemTransformDocRow struct {
	DueItemID    string  `db:"due_item_id"`
	NumeroDue    string  `db:"numero_due"`
	ItemNumero   int     `db:"item_numero"`
	Indice       int     `db:"indice"`
	Tipo         string  `db:"tipo"`
	Numero       string  `db:"numero"`
	DataRegistro *string `db:"data_registro"`
}

type ItemTaxTreatmentRow struct {
	DueItemID  string `db:"due_item_id"`
	NumeroDue  string `db:"numero_due"`
	ItemNumero int    `db:"item_numero"`
	Indice     int    `db:"indice"`
	Codigo     string `db:"codigo"`
	Descricao  string `db:"descricao"`
	Tipo       string `db:"tipo"`
	Tributo    string `db:"tributo"`
}

type ItemTaxBracketRow struct {
	DueItemID       string          `db:"due_item_id"`
	NumeroDue       string          `db:"numero_due"`
	ItemNumero      int             `db:"item_numero"`
	Indice          int             `db:"indice"`
	Tributo         string          `db:"tributo"`
	BaseDeCalculo   decimal.Decimal `db:"base_de_calculo"`
	Aliquota        decimal.Decimal `db:"aliquota"`
	ValorDevido     decimal.Decimal `db:"valor_devido"`
	ValorRecolhido  decimal.Decimal `db:"valor_recolhido"`
	ValorCompensado decimal.Decimal `db:"valor_compensado"`
}

type CargoSituationRow struct {
	NumeroDue    string `db:"numero_due"`
	Codigo       int    `db:"codigo"`
	Descricao    string `db:"descricao"`
	CargaOperada bool   `db:"carga_operada"`
}

type RequestRow struct {
	NumeroDue                   string  `db:"numero_due"`
	TipoSolicitacao             string  `db:"tipo_solicitacao"`
	DataDaSolicitacao           *string `db:"data_da_solicitacao"`
	UsuarioResponsavel          string  `db:"usuario_responsavel"`
	CodigoDoStatusDaSolicitacao int     `db:"codigo_do_status_da_solicitacao"`
	StatusDaSolicitacao         string  `db:"status_da_solicitacao"`
	DataDeApreciacao            *string `db:"data_de_apreciacao"`
	Motivo                      string  `db:"motivo"`
}

type TaxCompensationRow struct {
	NumeroDue          string          `db:"numero_due"`
	DataDoRegistro     *string         `db:"data_do_registro"`
	NumeroDaDeclaracao string          `db:"numero_da_declaracao"`
	ValorCompensado    decimal.Decimal `db:"valor_compensado"`
}

type TaxCollectionRow struct {
	NumeroDue               string          `db:"numero_due"`
	DataDoPagamento         *string         `db:"data_do_pagamento"`
	DataDoRegistro          *string         `db:"data_do_registro"`
	ValorDaMulta            decimal.Decimal `db:"valor_da_multa"`
	ValorDoImpostoRecolhido decimal.Decimal `db:"valor_do_imposto_recolhido"`
	ValorDoJurosMora        decimal.Decimal `db:"valor_do_juros_mora"`
}

type TaxContestationRow struct {
	NumeroDue        string  `db:"numero_due"`
	Indice           int     `db:"indice"`
	DataDoRegistro   *string `db:"data_do_registro"`
	Motivo           string  `db:"motivo"`
	Status           string  `db:"status"`
	DataDeApreciacao *string `db:"data_de_apreciacao"`
	Observacao       string  `db:"observacao"`
}

type BondedActRow struct {
	NumeroDue                string          `db:"numero_due"`
	AtoNumero                string          `db:"ato_numero"`
	TipoCodigo               int             `db:"tipo_codigo"`
	TipoDescricao            string          `db:"tipo_descricao"`
	ItemNumero               string          `db:"item_numero"`
	ItemNCM                  string          `db:"item_ncm"`
	BeneficiarioCNPJ         string          `db:"beneficiario_cnpj"`
	QuantidadeExportada      decimal.Decimal `db:"quantidade_exportada"`
	ValorComCoberturaCambial decimal.Decimal `db:"valor_com_cobertura_cambial"`
	ValorSemCoberturaCambial decimal.Decimal `db:"valor_sem_cobertura_cambial"`
	ItemDeDueNumero          string          `db:"item_de_due_numero"`
}

type FiscalRequirementRow struct {
	NumeroDue        string          `db:"numero_due"`
	NumeroExigencia  string          `db:"numero_exigencia"`
	TipoExigencia    string          `db:"tipo_exigencia"`
	DataCriacao      *string         `db:"data_criacao"`
	DataLimite       *string         `db:"data_limite"`
	Status           string          `db:"status"`
	OrgaoResponsavel string          `db:"orgao_responsavel"`
	Descricao        string          `db:"descricao"`
	ValorExigido     decimal.Decimal `db:"valor_exigido"`
	ValorPago        decimal.Decimal `db:"valor_pago"`
	Observacoes      string          `db:"observacoes"`
}

// LinkRow maps an invoice access key to the declaration that references it.
type LinkRow struct {
	ChaveNF   string `db:"chave_nf"`
	NumeroDue string `db:"numero_due"`
}

// Batch is one child table's replacement set. Rows is a typed slice
// (e.g. []EventRow); it may be empty, which still clears the table for the
// declaration.
type Batch struct {
	Table string
	Rows  any
	Len   int
}

// RowSet is the full normalization product for one declaration.
type RowSet struct {
	Principal PrincipalRow
	Children  []Batch
}

// TotalRows counts every row in the set, principal included.
func (rs *RowSet) TotalRows() int {
	n := 1
	for _, b := range rs.Children {
		n += b.Len
	}
	return n
}
